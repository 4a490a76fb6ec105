package cache

// LRU is an in-memory cache bounded by entry count. Both Get and Set
// refresh an entry's recency; inserting past capacity evicts the single
// least recently used entry. A max of zero or below means unbounded.
//
// LRU is not safe for concurrent use; callers that share one across
// goroutines wrap it, as Ref does.
type LRU[K comparable, V any] struct {
	max     int
	entries map[K]*lruEntry[K, V]
	head    *lruEntry[K, V] // most recently used
	tail    *lruEntry[K, V] // least recently used
}

type lruEntry[K comparable, V any] struct {
	key  K
	val  V
	prev *lruEntry[K, V]
	next *lruEntry[K, V]
}

// NewLRU returns an empty cache holding at most max entries, or
// unbounded when max <= 0.
func NewLRU[K comparable, V any](max int) *LRU[K, V] {
	return &LRU[K, V]{
		max:     max,
		entries: make(map[K]*lruEntry[K, V]),
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.val, true
}

// Set stores val under key, replacing any existing value, and marks the
// entry most recently used.
func (c *LRU[K, V]) Set(key K, val V) {
	if e, ok := c.entries[key]; ok {
		e.val = val
		c.moveToFront(e)
		return
	}

	e := &lruEntry[K, V]{key: key, val: val}
	c.entries[key] = e
	c.pushFront(e)

	if c.max > 0 && len(c.entries) > c.max {
		c.evictOldest()
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return len(c.entries)
}

// Clear removes every entry.
func (c *LRU[K, V]) Clear() {
	c.entries = make(map[K]*lruEntry[K, V])
	c.head = nil
	c.tail = nil
}

func (c *LRU[K, V]) pushFront(e *lruEntry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU[K, V]) moveToFront(e *lruEntry[K, V]) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *LRU[K, V]) unlink(e *lruEntry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.head == e {
		c.head = e.next
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *LRU[K, V]) evictOldest() {
	oldest := c.tail
	if oldest == nil {
		return
	}
	c.unlink(oldest)
	delete(c.entries, oldest.key)
}
