package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touching a makes b the eviction candidate.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok)

	va, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, va)

	vc, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, vc)
	assert.Equal(t, 2, c.Len())
}

func TestLRUSetRefreshesRecency(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)

	va, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, va)
}

func TestLRUUnbounded(t *testing.T) {
	c := NewLRU[int, string](0)
	for i := 0; i < 1000; i++ {
		c.Set(i, fmt.Sprintf("value-%d", i))
	}

	assert.Equal(t, 1000, c.Len())
	v, ok := c.Get(0)
	assert.True(t, ok)
	assert.Equal(t, "value-0", v)
}

func TestLRUGetMiss(t *testing.T) {
	c := NewLRU[string, int](4)
	v, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[string, int](4)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Reusable after clearing.
	c.Set("c", 3)
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUSingleEntryCapacity(t *testing.T) {
	c := NewLRU[string, int](1)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
