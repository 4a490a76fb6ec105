package weft

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftline/weft-go/internal/fields"
	"github.com/weftline/weft-go/spanref"
)

// ErrNoopSpan marks operations on spans from a disabled state.
var ErrNoopSpan = errors.New("span is a no-op")

// SpanAttributes name and classify a span.
type SpanAttributes struct {
	Name string
	Type SpanType
}

// Span is one traced unit of work. Spans are safe for concurrent use;
// End is idempotent and everything after it is ignored.
type Span interface {
	// ID returns the span's own identifier.
	ID() string

	// RootSpanID returns the identifier shared by the span's trace.
	RootSpanID() string

	// Parents returns the ancestor span IDs, nearest first.
	Parents() []string

	// SetAttributes updates the span's name and type. Zero fields are
	// left unchanged.
	SetAttributes(attrs SpanAttributes)

	// Log merges event fields into the span.
	Log(event map[string]any)

	// LogFeedback attaches scores or comments to the span as a merge
	// record, usable after End.
	LogFeedback(event map[string]any)

	// StartSpan begins a child span.
	StartSpan(name string, opts ...StartSpanOption) Span

	// End finishes the span and hands it to the record sink.
	End()

	// EndWithTime finishes the span at an explicit timestamp.
	EndWithTime(end time.Time)

	// Export encodes the span as a portable slug another process can
	// resume from.
	Export() (string, error)
}

// ============================================================================
// Implementation
// ============================================================================

type spanImpl struct {
	state *State
	dest  Destination

	rowID      string
	spanID     string
	rootSpanID string
	parents    []string
	propagated map[string]any

	start time.Time

	mu       sync.Mutex
	name     string
	spanType SpanType
	fields   map[string]any

	ended atomic.Bool
}

func (s *spanImpl) ID() string         { return s.spanID }
func (s *spanImpl) RootSpanID() string { return s.rootSpanID }

func (s *spanImpl) Parents() []string {
	out := make([]string, len(s.parents))
	copy(out, s.parents)
	return out
}

func (s *spanImpl) SetAttributes(attrs SpanAttributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs.Name != "" {
		s.name = attrs.Name
	}
	if attrs.Type != "" {
		s.spanType = attrs.Type
	}
}

// Log merges event into the span's fields and journals the partial
// update to the disk buffer.
func (s *spanImpl) Log(event map[string]any) {
	if len(event) == 0 {
		return
	}
	if s.ended.Load() {
		s.state.log.Debug("log after end ignored", zap.String("span_id", s.spanID))
		return
	}

	s.mu.Lock()
	s.fields = fields.Merge(s.fields, event)
	s.mu.Unlock()

	if err := s.state.buf.Write(s.rootSpanID, s.spanID, event); err != nil {
		s.state.log.Debug("span buffer write failed", zap.Error(err))
	}
}

// LogFeedback enqueues a merge record against the span, so scores and
// comments can land after the span itself was submitted.
func (s *spanImpl) LogFeedback(event map[string]any) {
	if len(event) == 0 {
		return
	}
	rec := &LogRecord{
		RowID:      s.rowID,
		SpanID:     s.spanID,
		RootSpanID: s.rootSpanID,
		Fields:     fields.Clone(event),
		Created:    time.Now(),
		IsMerge:    true,
	}
	s.state.sink.Log(s.deferResolved(rec))
}

func (s *spanImpl) StartSpan(name string, opts ...StartSpanOption) Span {
	opts = append([]StartSpanOption{WithParentSpan(s)}, opts...)
	_, child := s.state.StartSpan(context.Background(), name, opts...)
	return child
}

func (s *spanImpl) End() {
	s.EndWithTime(time.Now())
}

func (s *spanImpl) EndWithTime(end time.Time) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	data := fields.Merge(fields.Clone(s.propagated), s.fields)
	name, spanType := s.name, s.spanType
	s.mu.Unlock()

	data = fields.Merge(data, map[string]any{
		"metrics": map[string]any{
			"start": unixSeconds(s.start),
			"end":   unixSeconds(end),
		},
	})
	if attrs := spanAttrFields(name, spanType); attrs != nil {
		data = fields.Merge(data, map[string]any{"span_attributes": attrs})
	}

	rec := &LogRecord{
		RowID:      s.rowID,
		SpanID:     s.spanID,
		RootSpanID: s.rootSpanID,
		SpanParents: func() []string {
			if len(s.parents) == 0 {
				return nil
			}
			return s.Parents()
		}(),
		Fields:  data,
		Created: s.start,
	}
	s.state.sink.Log(s.deferResolved(rec))

	if err := s.state.buf.Write(s.rootSpanID, s.spanID, data); err != nil {
		s.state.log.Debug("span buffer write failed", zap.Error(err))
	}

	if s.state.cfg.SyncFlush {
		if err := s.state.Flush(context.Background()); err != nil {
			s.state.log.Warn("sync flush failed", zap.Error(err))
		} else if len(s.parents) == 0 {
			s.state.buf.Clear(s.rootSpanID)
		}
	}
}

// Export packs the span's identity and destination into a slug. The
// destination travels as names; the receiving process resolves them.
func (s *spanImpl) Export() (string, error) {
	d := s.dest.normalize(s.state.cfg)
	objectID, args := d.refParts()
	return spanref.Encode(spanref.Ref{
		Kind:         d.Kind,
		ObjectID:     objectID,
		MetadataArgs: args,
		RowID:        s.rowID,
		SpanID:       s.spanID,
		RootSpanID:   s.rootSpanID,
		Propagated:   fields.Clone(s.propagated),
	})
}

// deferResolved wraps rec so its destination is resolved lazily at
// flush time, letting spans finish before any login happened.
func (s *spanImpl) deferResolved(rec *LogRecord) *Deferred[*LogRecord] {
	state, dest := s.state, s.dest
	return NewDeferred(func() *LogRecord {
		objectFields, err := state.resolveDestination(context.Background(), dest)
		if err != nil {
			rec.resolveErr = err
			return rec
		}
		rec.ObjectFields = objectFields
		return rec
	})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func spanAttrFields(name string, spanType SpanType) map[string]any {
	attrs := map[string]any{}
	if name != "" {
		attrs["name"] = name
	}
	if spanType != "" {
		attrs["type"] = string(spanType)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// ============================================================================
// No-op span
// ============================================================================

type noopSpan struct{}

func (noopSpan) ID() string                            { return "" }
func (noopSpan) RootSpanID() string                    { return "" }
func (noopSpan) Parents() []string                     { return nil }
func (noopSpan) SetAttributes(SpanAttributes)          {}
func (noopSpan) Log(map[string]any)                    {}
func (noopSpan) LogFeedback(map[string]any)            {}
func (noopSpan) StartSpan(string, ...StartSpanOption) Span { return noopSpan{} }
func (noopSpan) End()                                  {}
func (noopSpan) EndWithTime(time.Time)                 {}
func (noopSpan) Export() (string, error)               { return "", ErrNoopSpan }

// ============================================================================
// Context plumbing
// ============================================================================

type spanContextKey struct{}

// ContextWithSpan attaches span to ctx.
func ContextWithSpan(ctx context.Context, span Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the span attached to ctx, if any.
func SpanFromContext(ctx context.Context) (Span, bool) {
	span, ok := ctx.Value(spanContextKey{}).(Span)
	return span, ok
}

// CurrentSpan returns the span attached to ctx, or a no-op span.
func CurrentSpan(ctx context.Context) Span {
	if span, ok := SpanFromContext(ctx); ok {
		return span
	}
	return noopSpan{}
}

var _ Span = (*spanImpl)(nil)
var _ Span = noopSpan{}

// rowIdentifier returns the primary key for a new record row.
func rowIdentifier() string {
	return uuid.NewString()
}
