// Package weft is the Weftline client SDK: spans for LLM and eval
// workloads, logged to the Weftline API without blocking the host
// application.
//
// The usual flow is a Login, one or more spans, and a Flush before the
// process exits:
//
//	state, err := weft.NewState()
//	if err != nil { ... }
//	if err := state.Login(ctx); err != nil { ... }
//
//	ctx, span := state.StartSpan(ctx, "answer", weft.WithType(weft.SpanTypeLLM))
//	span.Log(map[string]any{"input": question})
//	// ... call the model ...
//	span.Log(map[string]any{"output": answer})
//	span.End()
//
//	if err := state.Flush(ctx); err != nil { ... }
//
// Finished spans queue in the background and flush in batches; a slow or
// unreachable API never stalls the code being traced. Export turns a
// span into a portable string another process can parent from, and
// spanref parses those strings back.
package weft
