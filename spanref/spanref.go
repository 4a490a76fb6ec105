// Package spanref encodes and decodes portable span references.
//
// A span reference names one row of one logging destination: the parent
// object (experiment, project log stream, or playground log stream), the
// row identity (row, span, and root span IDs), and an optional payload
// propagated to descendant spans. References travel as opaque base64
// strings so they can cross process boundaries in headers, environment
// variables, or queue messages, and are decoded back on the far side to
// parent remote spans under the original row.
//
// Two wire versions exist. Version 1 is a legacy JSON body that is still
// accepted on decode. Version 2 is a compact tagged binary body and is
// what Encode emits. Span and root span IDs that look like 8- and
// 16-byte lower-hex identifiers are packed as raw bytes in version 2,
// which roughly halves the reference size for OpenTelemetry-style IDs.
package spanref

import (
	"errors"
	"fmt"
)

// ErrMalformed reports a span reference that could not be decoded.
// Errors returned by Parse wrap it with a description of the defect.
var ErrMalformed = errors.New("malformed span reference")

// ============================================================================
// Object Kinds
// ============================================================================

// ObjectKind names the kind of logging destination a reference points at.
type ObjectKind int

const (
	// KindUnknown is the zero value and never appears in a valid reference.
	KindUnknown ObjectKind = iota
	// KindExperiment points at an experiment.
	KindExperiment
	// KindProjectLogs points at a project's log stream.
	KindProjectLogs
	// KindPlaygroundLogs points at a playground session's log stream.
	KindPlaygroundLogs
)

var kindNames = map[ObjectKind]string{
	KindExperiment:     "experiment",
	KindProjectLogs:    "project_logs",
	KindPlaygroundLogs: "playground_logs",
}

var kindValues = map[string]ObjectKind{
	"experiment":      KindExperiment,
	"project_logs":    KindProjectLogs,
	"playground_logs": KindPlaygroundLogs,
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("object_kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds.
func (k ObjectKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves a kind name such as "experiment" to its ObjectKind.
func ParseKind(name string) (ObjectKind, error) {
	if k, ok := kindValues[name]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: unknown object kind %q", ErrMalformed, name)
}

// ============================================================================
// Reference
// ============================================================================

// Ref is a decoded span reference.
//
// ObjectID may be empty when MetadataArgs carries enough information to
// resolve the destination later; at least one of the two must be set.
// RowID, SpanID, and RootSpanID are either all set, identifying one row,
// or all empty, pointing at the object itself rather than a row.
type Ref struct {
	// Kind is the destination kind. Required.
	Kind ObjectKind

	// ObjectID is the destination object's ID.
	ObjectID string

	// MetadataArgs carries arguments for resolving the destination when
	// ObjectID is not yet known, such as a project name.
	MetadataArgs map[string]any

	// RowID, SpanID, and RootSpanID identify the referenced row.
	RowID      string
	SpanID     string
	RootSpanID string

	// Propagated is an optional payload merged into every descendant
	// span's record.
	Propagated map[string]any
}

// HasRow reports whether the reference points at a specific row rather
// than at the destination object as a whole.
func (r Ref) HasRow() bool {
	return r.RowID != ""
}

func (r Ref) validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: missing or unknown object kind", ErrMalformed)
	}
	if r.ObjectID == "" && len(r.MetadataArgs) == 0 {
		return fmt.Errorf("%w: neither object ID nor metadata args present", ErrMalformed)
	}
	rowSet := r.RowID != ""
	if rowSet != (r.SpanID != "") || rowSet != (r.RootSpanID != "") {
		return fmt.Errorf("%w: row, span, and root span IDs must be set together", ErrMalformed)
	}
	return nil
}

// ObjectFields returns the foreign-key columns a record logged under this
// reference must carry, keyed by column name.
func (r Ref) ObjectFields() (map[string]string, error) {
	if r.ObjectID == "" {
		return nil, fmt.Errorf("object fields for %s reference: object ID is unresolved", r.Kind)
	}
	switch r.Kind {
	case KindExperiment:
		return map[string]string{"experiment_id": r.ObjectID}, nil
	case KindProjectLogs:
		return map[string]string{"project_id": r.ObjectID, "log_id": "g"}, nil
	case KindPlaygroundLogs:
		return map[string]string{"prompt_session_id": r.ObjectID, "log_id": "x"}, nil
	default:
		return nil, fmt.Errorf("object fields: unknown object kind %d", int(r.Kind))
	}
}
