// Package idgen provides span identity generation for the SDK.
//
// Two schemes are supported, selected once per process through the
// WEFT_ID_FORMAT environment variable:
//   - uuid: random UUID strings for span and root span IDs. A root span
//     reuses its own span ID as the root span ID.
//   - otel: OpenTelemetry-compatible identifiers, 8 random bytes for a
//     span ID and 16 for a root span ID, lower-hex encoded. A root span
//     carries a root span ID distinct from its span ID.
//
// Unrecognized values fall back to uuid so existing environments keep
// working. The resolved scheme is cached for the life of the process;
// tests can clear it with Reset.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	mrand "math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// EnvFormat is the environment variable that selects the scheme.
const EnvFormat = "WEFT_ID_FORMAT"

// Format names an identifier scheme.
type Format string

const (
	// FormatUUID generates UUID string identifiers.
	FormatUUID Format = "uuid"
	// FormatOTel generates OpenTelemetry trace/span hex identifiers.
	FormatOTel Format = "otel"
)

// ============================================================================
// Generator
// ============================================================================

// Generator produces span identifiers under a single scheme.
type Generator interface {
	// SpanID returns a fresh span identifier.
	SpanID() string

	// RootSpanID returns a fresh root span identifier.
	RootSpanID() string

	// SharedRoot reports whether a root span reuses its span ID as its
	// root span ID instead of drawing a separate identifier.
	SharedRoot() bool

	// Format names the scheme.
	Format() Format
}

var (
	activeMu sync.Mutex
	active   Generator
)

// Active returns the process-wide generator, resolving WEFT_ID_FORMAT on
// first use and caching the result.
func Active() Generator {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil {
		active = fromEnv()
	}
	return active
}

// Reset drops the cached generator so the next Active call re-reads the
// environment. Intended for tests.
func Reset() {
	activeMu.Lock()
	active = nil
	activeMu.Unlock()
}

func fromEnv() Generator {
	switch Format(strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat)))) {
	case FormatOTel:
		return NewOTelGenerator(rand.Reader)
	default:
		return NewUUIDGenerator()
	}
}

// ============================================================================
// UUID Scheme
// ============================================================================

type uuidGenerator struct{}

// NewUUIDGenerator returns a generator producing UUID identifiers.
func NewUUIDGenerator() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) SpanID() string     { return uuid.NewString() }
func (uuidGenerator) RootSpanID() string { return uuid.NewString() }
func (uuidGenerator) SharedRoot() bool   { return true }
func (uuidGenerator) Format() Format     { return FormatUUID }

// ============================================================================
// OpenTelemetry Scheme
// ============================================================================

const (
	spanIDBytes = 8
	rootIDBytes = 16
)

type otelGenerator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

// NewOTelGenerator returns a generator producing OpenTelemetry-style hex
// identifiers from the given entropy source. Pass a deterministic reader
// for reproducible IDs in tests.
func NewOTelGenerator(entropy io.Reader) Generator {
	return &otelGenerator{entropy: entropy}
}

func (g *otelGenerator) SpanID() string     { return g.hexID(spanIDBytes) }
func (g *otelGenerator) RootSpanID() string { return g.hexID(rootIDBytes) }
func (g *otelGenerator) SharedRoot() bool   { return false }
func (g *otelGenerator) Format() Format     { return FormatOTel }

func (g *otelGenerator) hexID(n int) string {
	buf := make([]byte, n)

	g.entropyMu.Lock()
	_, err := io.ReadFull(g.entropy, buf)
	g.entropyMu.Unlock()

	if err != nil {
		// Entropy exhaustion is not a reason to fail span creation.
		for i := 0; i < n; i += 8 {
			binary.BigEndian.PutUint64(buf[i:], mrand.Uint64())
		}
	}
	return hex.EncodeToString(buf)
}
