package weft

import "sync"

// Deferred is a computation run at most once, with the result memoized.
//
// Record queue items are Deferred so that building a record, which may
// resolve its logging destination over the network, is paid only when
// the item is actually flushed. Items discarded by queue overflow or
// Disable are never built at all.
type Deferred[T any] struct {
	once sync.Once
	fn   func() T
	val  T
}

// NewDeferred wraps fn without running it.
func NewDeferred[T any](fn func() T) *Deferred[T] {
	return &Deferred[T]{fn: fn}
}

// DeferredOf returns an already-computed Deferred holding val.
func DeferredOf[T any](val T) *Deferred[T] {
	d := &Deferred[T]{val: val}
	d.once.Do(func() {})
	return d
}

// Value runs the computation on first call and returns the memoized
// result on every call after that.
func (d *Deferred[T]) Value() T {
	d.once.Do(func() {
		d.val = d.fn()
		d.fn = nil
	})
	return d.val
}
