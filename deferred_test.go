package weft

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredComputesOnce(t *testing.T) {
	var runs int32
	d := NewDeferred(func() int {
		atomic.AddInt32(&runs, 1)
		return 7
	})

	assert.Equal(t, 7, d.Value())
	assert.Equal(t, 7, d.Value())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestDeferredConcurrentValue(t *testing.T) {
	var runs int32
	d := NewDeferred(func() string {
		atomic.AddInt32(&runs, 1)
		return "ready"
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "ready", d.Value())
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestDeferredOf(t *testing.T) {
	rec := recordOf("pre")
	d := DeferredOf(rec)
	assert.Same(t, rec, d.Value())
}
