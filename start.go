package weft

import (
	"context"
	"time"

	"github.com/weftline/weft-go/internal/fields"
	"github.com/weftline/weft-go/internal/idgen"
	"github.com/weftline/weft-go/spanref"
)

type startOptions struct {
	spanType   SpanType
	start      time.Time
	parentRef  *spanref.Ref
	parentSpan Span
	dest       *Destination
	event      map[string]any
	propagated map[string]any
}

// StartSpanOption customizes StartSpan.
type StartSpanOption func(*startOptions)

// WithType sets the span's type.
func WithType(t SpanType) StartSpanOption {
	return func(o *startOptions) { o.spanType = t }
}

// WithStartTime overrides the span's start timestamp.
func WithStartTime(t time.Time) StartSpanOption {
	return func(o *startOptions) { o.start = t }
}

// WithParent resumes under a span reference, typically parsed from a
// slug exported by another process.
func WithParent(ref spanref.Ref) StartSpanOption {
	return func(o *startOptions) { o.parentRef = &ref }
}

// WithParentSpan starts the span under an in-process parent instead of
// whatever is attached to the context.
func WithParentSpan(parent Span) StartSpanOption {
	return func(o *startOptions) { o.parentSpan = parent }
}

// WithDestination routes the span's records explicitly.
func WithDestination(d Destination) StartSpanOption {
	return func(o *startOptions) { o.dest = &d }
}

// WithEvent logs an initial event on the new span.
func WithEvent(event map[string]any) StartSpanOption {
	return func(o *startOptions) { o.event = event }
}

// WithPropagated adds fields inherited by the span and all its
// descendants, including across process boundaries via Export.
func WithPropagated(f map[string]any) StartSpanOption {
	return func(o *startOptions) { o.propagated = f }
}

// StartSpan begins a span under s and returns ctx carrying it. The
// parent is chosen in order: an explicit reference, an explicit parent
// span, the span attached to ctx. Without any of those the span starts
// a new trace.
func (s *State) StartSpan(ctx context.Context, name string, opts ...StartSpanOption) (context.Context, Span) {
	if s.Status() == StatusDisabled {
		return ctx, noopSpan{}
	}

	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	var sp *spanImpl
	switch {
	case o.parentRef != nil:
		sp = s.spanFromRef(*o.parentRef)
	case o.parentSpan != nil:
		if parent, ok := o.parentSpan.(*spanImpl); ok {
			sp = s.childSpan(parent)
		}
	default:
		if cur, ok := SpanFromContext(ctx); ok {
			if parent, ok := cur.(*spanImpl); ok {
				sp = s.childSpan(parent)
			}
		}
	}
	if sp == nil {
		sp = s.rootSpan()
	}

	if o.dest != nil {
		sp.dest = *o.dest
	}
	sp.start = time.Now()
	if !o.start.IsZero() {
		sp.start = o.start
	}
	sp.name = name
	sp.spanType = o.spanType
	if len(o.propagated) > 0 {
		sp.propagated = fields.Merge(sp.propagated, o.propagated)
	}
	if len(o.event) > 0 {
		sp.Log(o.event)
	}

	return ContextWithSpan(ctx, sp), sp
}

func (s *State) rootSpan() *spanImpl {
	gen := idgen.Active()
	spanID := gen.SpanID()
	rootID := spanID
	if !gen.SharedRoot() {
		rootID = gen.RootSpanID()
	}
	return &spanImpl{
		state:      s,
		rowID:      rowIdentifier(),
		spanID:     spanID,
		rootSpanID: rootID,
		fields:     map[string]any{},
	}
}

func (s *State) childSpan(parent *spanImpl) *spanImpl {
	parents := make([]string, 0, len(parent.parents)+1)
	parents = append(parents, parent.spanID)
	parents = append(parents, parent.parents...)
	return &spanImpl{
		state:      s,
		dest:       parent.dest,
		rowID:      rowIdentifier(),
		spanID:     idgen.Active().SpanID(),
		rootSpanID: parent.rootSpanID,
		parents:    parents,
		propagated: fields.Clone(parent.propagated),
		fields:     map[string]any{},
	}
}

// spanFromRef resumes a trace from a reference. A reference naming a
// row continues under that row; one naming only an object starts a
// fresh trace routed to it.
func (s *State) spanFromRef(ref spanref.Ref) *spanImpl {
	sp := s.rootSpan()
	sp.dest = destinationFromRef(ref)
	if len(ref.Propagated) > 0 {
		sp.propagated = fields.Clone(ref.Propagated)
	}
	if ref.HasRow() {
		sp.rootSpanID = ref.RootSpanID
		sp.parents = []string{ref.SpanID}
	}
	return sp
}

// refParts expresses the destination as reference fields: a concrete
// object ID when one is known, otherwise the arguments a receiver
// needs to resolve it.
func (d Destination) refParts() (objectID string, args map[string]any) {
	switch d.Kind {
	case spanref.KindExperiment:
		if d.ExperimentID != "" {
			return d.ExperimentID, nil
		}
		args = map[string]any{}
		if d.Experiment != "" {
			args["experiment_name"] = d.Experiment
		}
		if d.ProjectID != "" {
			args["project_id"] = d.ProjectID
		}
		if d.Project != "" {
			args["project_name"] = d.Project
		}
		return "", args
	case spanref.KindProjectLogs:
		if d.ProjectID != "" {
			return d.ProjectID, nil
		}
		return "", map[string]any{"project_name": d.Project}
	case spanref.KindPlaygroundLogs:
		return d.PlaygroundID, nil
	default:
		return "", nil
	}
}

// destinationFromRef inverts refParts on the receiving side.
func destinationFromRef(ref spanref.Ref) Destination {
	d := Destination{Kind: ref.Kind}
	if ref.ObjectID != "" {
		switch ref.Kind {
		case spanref.KindExperiment:
			d.ExperimentID = ref.ObjectID
		case spanref.KindProjectLogs:
			d.ProjectID = ref.ObjectID
		case spanref.KindPlaygroundLogs:
			d.PlaygroundID = ref.ObjectID
		}
		return d
	}
	d.Experiment = stringArg(ref.MetadataArgs, "experiment_name")
	d.Project = stringArg(ref.MetadataArgs, "project_name")
	d.ProjectID = stringArg(ref.MetadataArgs, "project_id")
	d.PlaygroundID = stringArg(ref.MetadataArgs, "prompt_session_id")
	return d
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
