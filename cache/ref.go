package cache

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrAmbiguousKey reports a lookup that cannot name a single object: no
// ID was given and the project/slug pair is incomplete.
var ErrAmbiguousKey = errors.New("cache key requires an id, or both a project id and a slug")

// Key builds the canonical cache key for a named object. An explicit id
// wins; otherwise the object is addressed by project id and slug
// together.
func Key(id, projectID, slug string) (string, error) {
	if id != "" {
		return id, nil
	}
	if projectID == "" || slug == "" {
		return "", ErrAmbiguousKey
	}
	return projectID + ":" + slug, nil
}

// Observer receives lookup outcomes. On a hit, layer names the layer
// that answered: "memory" or "disk".
type Observer func(layer string, hit bool)

// Ref layers a per-process LRU over a cross-process disk cache. Reads
// check memory first and promote disk hits; writes go through to both
// layers. Disk failures degrade the cache to memory-only.
//
// Ref is safe for concurrent use.
type Ref[V any] struct {
	mu      sync.Mutex
	mem     *LRU[string, V]
	disk    *Disk[V]
	log     *zap.Logger
	observe Observer
}

// RefOption customizes NewRef.
type RefOption[V any] func(*Ref[V])

// WithObserver reports each lookup's outcome to fn.
func WithObserver[V any](fn Observer) RefOption[V] {
	return func(r *Ref[V]) { r.observe = fn }
}

// NewRef combines mem and disk into a layered cache. A nil mem gets an
// unbounded LRU, a nil disk leaves the cache memory-only, and a nil log
// discards diagnostics.
func NewRef[V any](mem *LRU[string, V], disk *Disk[V], log *zap.Logger, opts ...RefOption[V]) *Ref[V] {
	if mem == nil {
		mem = NewLRU[string, V](0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Ref[V]{mem: mem, disk: disk, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached value for key, consulting memory before disk.
func (r *Ref[V]) Get(ctx context.Context, key string) (V, bool) {
	r.mu.Lock()
	if val, ok := r.mem.Get(key); ok {
		r.mu.Unlock()
		r.outcome("memory", true)
		return val, true
	}
	r.mu.Unlock()

	var zero V
	if r.disk == nil {
		r.outcome("", false)
		return zero, false
	}
	val, ok := r.disk.Get(ctx, key)
	if !ok {
		r.outcome("", false)
		return zero, false
	}

	r.mu.Lock()
	r.mem.Set(key, val)
	r.mu.Unlock()
	r.outcome("disk", true)
	return val, true
}

func (r *Ref[V]) outcome(layer string, hit bool) {
	if r.observe != nil {
		r.observe(layer, hit)
	}
}

// Set stores val in both layers. A failed disk write leaves the value
// cached in memory only.
func (r *Ref[V]) Set(ctx context.Context, key string, val V) {
	r.mu.Lock()
	r.mem.Set(key, val)
	r.mu.Unlock()

	if r.disk == nil {
		return
	}
	if err := r.disk.Set(ctx, key, val); err != nil {
		r.log.Debug("object cache disk write failed", zap.String("key", key), zap.Error(err))
	}
}
