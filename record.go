package weft

import (
	"time"
)

// SpanType classifies a span for display and aggregation.
type SpanType string

const (
	SpanTypeLLM      SpanType = "llm"
	SpanTypeScore    SpanType = "score"
	SpanTypeFunction SpanType = "function"
	SpanTypeEval     SpanType = "eval"
	SpanTypeTask     SpanType = "task"
	SpanTypeTool     SpanType = "tool"
)

// LogRecord is one row bound for the logs API: a span's accumulated
// fields plus the identity and destination columns the backend needs to
// place it.
type LogRecord struct {
	// RowID is the row's unique identity; feedback for the row merges
	// under the same ID.
	RowID string

	// SpanID and RootSpanID place the row in its trace.
	SpanID     string
	RootSpanID string

	// SpanParents lists ancestor span IDs, nearest first.
	SpanParents []string

	// ObjectFields are the destination foreign keys, such as
	// experiment_id or project_id.
	ObjectFields map[string]string

	// Fields is the logged payload: input, output, metadata, scores,
	// metrics, and anything else the caller merged in.
	Fields map[string]any

	// Created is the row's creation timestamp.
	Created time.Time

	// IsMerge marks the row as a partial update of an existing row
	// rather than an authoritative replacement.
	IsMerge bool

	// resolveErr records a destination resolution failure during
	// materialization; the logger drops the row and surfaces the error
	// from Flush.
	resolveErr error
}

// row flattens the record into its wire shape. Identity and destination
// columns win over any colliding payload keys.
func (r *LogRecord) row() map[string]any {
	row := make(map[string]any, len(r.Fields)+len(r.ObjectFields)+6)
	for k, v := range r.Fields {
		row[k] = v
	}
	for k, v := range r.ObjectFields {
		row[k] = v
	}
	row["id"] = r.RowID
	row["span_id"] = r.SpanID
	row["root_span_id"] = r.RootSpanID
	if len(r.SpanParents) > 0 {
		row["span_parents"] = r.SpanParents
	}
	if !r.Created.IsZero() {
		row["created"] = r.Created.UTC().Format(time.RFC3339Nano)
	}
	if r.IsMerge {
		row["_is_merge"] = true
	}
	return row
}
