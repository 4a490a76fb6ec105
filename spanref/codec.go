package spanref

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protowire"
)

// versionBinary prefixes the tagged binary body. Legacy JSON bodies are
// unversioned and recognized by their leading '{'.
const versionBinary = 2

// Field numbers of the binary body.
const (
	fieldKind         protowire.Number = 1
	fieldObjectID     protowire.Number = 2
	fieldRowID        protowire.Number = 3
	fieldSpanID       protowire.Number = 4
	fieldRootSpanID   protowire.Number = 5
	fieldSpanIDRaw    protowire.Number = 6
	fieldRootIDRaw    protowire.Number = 7
	fieldPropagated   protowire.Number = 8
	fieldMetadataArgs protowire.Number = 9
)

// ============================================================================
// Encoding
// ============================================================================

// Encode serializes r into an opaque base64 string.
//
// The reference is validated first; an incomplete reference, such as one
// carrying a span ID without a row ID, fails rather than producing a
// string no decoder would accept.
func Encode(r Ref) (string, error) {
	if err := r.validate(); err != nil {
		return "", fmt.Errorf("encode span reference: %w", err)
	}

	buf := make([]byte, 0, 128)
	buf = append(buf, versionBinary)

	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Kind))

	if r.ObjectID != "" {
		buf = appendStringField(buf, fieldObjectID, r.ObjectID)
	}
	if r.RowID != "" {
		buf = appendStringField(buf, fieldRowID, r.RowID)
	}
	buf = appendID(buf, r.SpanID, fieldSpanID, fieldSpanIDRaw, spanIDHexLen)
	buf = appendID(buf, r.RootSpanID, fieldRootSpanID, fieldRootIDRaw, rootIDHexLen)

	if len(r.Propagated) > 0 {
		js, err := sonic.Marshal(r.Propagated)
		if err != nil {
			return "", fmt.Errorf("encode span reference: marshal propagated payload: %w", err)
		}
		buf = appendBytesField(buf, fieldPropagated, js)
	}
	if len(r.MetadataArgs) > 0 {
		js, err := sonic.Marshal(r.MetadataArgs)
		if err != nil {
			return "", fmt.Errorf("encode span reference: marshal metadata args: %w", err)
		}
		buf = appendBytesField(buf, fieldMetadataArgs, js)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

const (
	spanIDHexLen = 16
	rootIDHexLen = 32
)

// appendID writes an identifier either as raw bytes, when it is a
// lower-hex string of the expected width, or as a plain string field.
func appendID(buf []byte, id string, strField, rawField protowire.Number, hexLen int) []byte {
	if id == "" {
		return buf
	}
	if raw, ok := hexBytes(id, hexLen); ok {
		return appendBytesField(buf, rawField, raw)
	}
	return appendStringField(buf, strField, id)
}

func appendStringField(buf []byte, num protowire.Number, v string) []byte {
	return appendBytesField(buf, num, []byte(v))
}

func appendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

func hexBytes(s string, hexLen int) ([]byte, bool) {
	if len(s) != hexLen {
		return nil, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return nil, false
		}
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// ============================================================================
// Decoding
// ============================================================================

// Parse decodes a span reference produced by Encode, or by the legacy
// JSON encoding. Decoding failures wrap ErrMalformed and describe the
// defect rather than reporting a bare parse failure.
func Parse(s string) (Ref, error) {
	if s == "" {
		return Ref{}, malformed("empty string")
	}
	raw, err := decodeBase64(s)
	if err != nil {
		return Ref{}, err
	}
	if len(raw) < 2 {
		return Ref{}, malformed("truncated body (%d bytes)", len(raw))
	}

	var ref Ref
	switch raw[0] {
	case '{':
		ref, err = parseJSON(raw)
	case versionBinary:
		ref, err = parseBinary(raw[1:])
	default:
		return Ref{}, malformed("unsupported version %d", raw[0])
	}
	if err != nil {
		return Ref{}, err
	}
	if err := ref.validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, enc := range encodings {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, malformed("not valid base64")
}

type jsonRef struct {
	ObjectType      string         `json:"object_type"`
	ObjectID        string         `json:"object_id"`
	RowID           string         `json:"row_id"`
	SpanID          string         `json:"span_id"`
	RootSpanID      string         `json:"root_span_id"`
	PropagatedEvent map[string]any `json:"propagated_event"`
	MetadataArgs    map[string]any `json:"compute_object_metadata_args"`
}

func parseJSON(raw []byte) (Ref, error) {
	var jr jsonRef
	if err := sonic.Unmarshal(raw, &jr); err != nil {
		return Ref{}, malformed("invalid JSON body: %v", err)
	}
	kind, err := ParseKind(jr.ObjectType)
	if err != nil {
		return Ref{}, err
	}
	return Ref{
		Kind:         kind,
		ObjectID:     jr.ObjectID,
		RowID:        jr.RowID,
		SpanID:       jr.SpanID,
		RootSpanID:   jr.RootSpanID,
		Propagated:   jr.PropagatedEvent,
		MetadataArgs: jr.MetadataArgs,
	}, nil
}

func parseBinary(body []byte) (Ref, error) {
	var ref Ref
	seen := make(map[protowire.Number]bool, 8)

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return Ref{}, malformed("invalid field tag: %v", protowire.ParseError(n))
		}
		body = body[n:]

		switch num {
		case fieldKind:
			if typ != protowire.VarintType {
				return Ref{}, malformed("object kind field has wire type %d", typ)
			}
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return Ref{}, malformed("truncated object kind: %v", protowire.ParseError(n))
			}
			body = body[n:]
			ref.Kind = ObjectKind(v)

		case fieldObjectID, fieldRowID, fieldSpanID, fieldRootSpanID:
			v, n, err := consumeBytesField(num, typ, body)
			if err != nil {
				return Ref{}, err
			}
			body = body[n:]
			switch num {
			case fieldObjectID:
				ref.ObjectID = string(v)
			case fieldRowID:
				ref.RowID = string(v)
			case fieldSpanID:
				ref.SpanID = string(v)
			case fieldRootSpanID:
				ref.RootSpanID = string(v)
			}

		case fieldSpanIDRaw, fieldRootIDRaw:
			v, n, err := consumeBytesField(num, typ, body)
			if err != nil {
				return Ref{}, err
			}
			body = body[n:]
			if num == fieldSpanIDRaw {
				if len(v) != spanIDHexLen/2 {
					return Ref{}, malformed("raw span ID is %d bytes, want %d", len(v), spanIDHexLen/2)
				}
				ref.SpanID = hex.EncodeToString(v)
			} else {
				if len(v) != rootIDHexLen/2 {
					return Ref{}, malformed("raw root span ID is %d bytes, want %d", len(v), rootIDHexLen/2)
				}
				ref.RootSpanID = hex.EncodeToString(v)
			}

		case fieldPropagated, fieldMetadataArgs:
			v, n, err := consumeBytesField(num, typ, body)
			if err != nil {
				return Ref{}, err
			}
			body = body[n:]
			var payload map[string]any
			if err := sonic.Unmarshal(v, &payload); err != nil {
				return Ref{}, malformed("field %d holds invalid JSON: %v", num, err)
			}
			if num == fieldPropagated {
				ref.Propagated = payload
			} else {
				ref.MetadataArgs = payload
			}

		default:
			// Unknown fields from newer encoders are skipped.
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return Ref{}, malformed("truncated field %d: %v", num, protowire.ParseError(n))
			}
			body = body[n:]
		}

		seen[num] = true
	}

	if seen[fieldSpanID] && seen[fieldSpanIDRaw] {
		return Ref{}, malformed("conflicting string and raw span ID fields")
	}
	if seen[fieldRootSpanID] && seen[fieldRootIDRaw] {
		return Ref{}, malformed("conflicting string and raw root span ID fields")
	}
	return ref, nil
}

func consumeBytesField(num protowire.Number, typ protowire.Type, body []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, malformed("field %d has wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return nil, 0, malformed("truncated field %d: %v", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
