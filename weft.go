package weft

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/weftline/weft-go/internal/diag"
)

var (
	defaultMu    sync.Mutex
	defaultState *State
)

// Default returns the process-wide state, creating it from the
// environment on first use.
func Default() *State {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultState == nil {
		defaultState = newDefaultState()
	}
	return defaultState
}

// SetDefault replaces the process-wide state. The previous state, if
// any, is left for the caller to close.
func SetDefault(s *State) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultState = s
}

func newDefaultState() *State {
	s, err := NewState()
	if err == nil {
		return s
	}
	diag.Default().Warn("configuration load failed, using defaults", zap.Error(err))
	s, _ = NewState(WithConfig(DefaultConfig()))
	return s
}

// Login authenticates the default state against the API.
func Login(ctx context.Context) error {
	return Default().Login(ctx)
}

// StartSpan begins a span on the default state.
func StartSpan(ctx context.Context, name string, opts ...StartSpanOption) (context.Context, Span) {
	return Default().StartSpan(ctx, name, opts...)
}

// Flush delivers every finished record enqueued on the default state.
func Flush(ctx context.Context) error {
	return Default().Flush(ctx)
}

// Disable turns the default state off for the rest of the process.
func Disable() {
	Default().Disable()
}

// LoadPrompt fetches a prompt through the default state.
func LoadPrompt(ctx context.Context, opts PromptOpts) (*Prompt, error) {
	return Default().LoadPrompt(ctx, opts)
}
