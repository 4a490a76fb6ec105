package buffer

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, opts ...Option) *SpanBuffer {
	t.Helper()
	opts = append([]Option{WithDir(t.TempDir())}, opts...)
	return New(opts...)
}

func TestWritesForSameSpanFold(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("root-1", "span-1", map[string]any{"input": "hello"}))
	require.NoError(t, b.Write("root-1", "span-1", map[string]any{"output": "world"}))

	records, ok := b.Get("root-1")
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "span-1", records[0].SpanID)
	assert.Equal(t, "hello", records[0].Data["input"])
	assert.Equal(t, "world", records[0].Data["output"])
}

func TestLaterWritesReplaceAndNeverErase(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s", map[string]any{
		"output":   "draft",
		"metadata": map[string]any{"model": "gpt-4o", "temp": 0.2},
	}))
	require.NoError(t, b.Write("r", "s", map[string]any{
		"output":   "final",
		"metadata": map[string]any{"temp": 0.7},
	}))

	records, ok := b.Get("r")
	require.True(t, ok)
	require.Len(t, records, 1)

	data := records[0].Data
	assert.Equal(t, "final", data["output"])
	meta := data["metadata"].(map[string]any)
	assert.Equal(t, "gpt-4o", meta["model"])
	assert.Equal(t, 0.7, meta["temp"])
}

func TestSpansKeepFirstWriteOrder(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s1", map[string]any{"n": 1}))
	require.NoError(t, b.Write("r", "s2", map[string]any{"n": 2}))
	require.NoError(t, b.Write("r", "s1", map[string]any{"m": 3}))
	require.NoError(t, b.Write("r", "s3", map[string]any{"n": 4}))

	records, ok := b.Get("r")
	require.True(t, ok)
	require.Len(t, records, 3)
	assert.Equal(t, "s1", records[0].SpanID)
	assert.Equal(t, "s2", records[1].SpanID)
	assert.Equal(t, "s3", records[2].SpanID)
}

func TestRootsAreIsolated(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("root-a", "s1", map[string]any{"k": "a"}))
	require.NoError(t, b.Write("root-b", "s2", map[string]any{"k": "b"}))

	records, ok := b.Get("root-a")
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].SpanID)

	assert.True(t, b.Has("root-b"))
	assert.False(t, b.Has("root-c"))

	_, ok = b.Get("root-c")
	assert.False(t, ok)
}

func TestClearForgetsOnlyGivenRoots(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r1", "s", map[string]any{"n": 1}))
	require.NoError(t, b.Write("r2", "s", map[string]any{"n": 2}))

	b.Clear("r1")

	_, ok := b.Get("r1")
	assert.False(t, ok)
	assert.False(t, b.Has("r1"))

	_, ok = b.Get("r2")
	assert.True(t, ok)
}

func TestClearAllTruncatesFile(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s", map[string]any{"n": 1}))
	b.ClearAll()

	_, ok := b.Get("r")
	assert.False(t, ok)

	info, err := os.Stat(b.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDisposeRemovesFileAndAllowsReuse(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s", map[string]any{"n": 1}))
	b.Dispose()

	_, err := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(err))
	_, ok := b.Get("r")
	assert.False(t, ok)

	// A later write starts a fresh file.
	require.NoError(t, b.Write("r2", "s2", map[string]any{"n": 2}))
	records, ok := b.Get("r2")
	require.True(t, ok)
	assert.Len(t, records, 1)
}

func TestDisableDropsEverything(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s", map[string]any{"n": 1}))
	b.Disable()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Write("r", "s", map[string]any{"n": i}))
	}

	_, ok := b.Get("r")
	assert.False(t, ok)
	assert.False(t, b.Has("r"))

	_, err := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestPreDisabledBufferNeverTouchesDisk(t *testing.T) {
	dir := t.TempDir()
	b := New(WithDir(dir), WithDisabled())

	require.NoError(t, b.Write("r", "s", map[string]any{"n": 1}))

	_, ok := b.Get("r")
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Write("r", "s1", map[string]any{"n": 1}))

	file, err := os.OpenFile(b.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString("{this is not json\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, b.Write("r", "s2", map[string]any{"n": 2}))

	records, ok := b.Get("r")
	require.True(t, ok)
	assert.Len(t, records, 2)
}

func TestOversizedLines(t *testing.T) {
	b := newTestBuffer(t)

	big := strings.Repeat("x", 256*1024)
	require.NoError(t, b.Write("r", "s", map[string]any{"output": big}))
	require.NoError(t, b.Write("r", "s", map[string]any{"n": 1}))

	records, ok := b.Get("r")
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, big, records[0].Data["output"])
	assert.Equal(t, float64(1), records[0].Data["n"])
}

func TestWriteRequiresIdentity(t *testing.T) {
	b := newTestBuffer(t)
	assert.Error(t, b.Write("", "s", nil))
	assert.Error(t, b.Write("r", "", nil))
}

func TestObserverSeesAppendedBytes(t *testing.T) {
	var writes, bytes int
	b := newTestBuffer(t, WithObserver(func(n int) {
		writes++
		bytes += n
	}))

	require.NoError(t, b.Write("r", "s", map[string]any{"input": "hello"}))
	require.NoError(t, b.Write("r", "s", map[string]any{"output": "world"}))

	assert.Equal(t, 2, writes)
	assert.Greater(t, bytes, 0)

	// Failed writes are not observed.
	require.Error(t, b.Write("", "s", nil))
	assert.Equal(t, 2, writes)
}
