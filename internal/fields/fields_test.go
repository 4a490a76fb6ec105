package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	t.Run("later values replace earlier ones", func(t *testing.T) {
		dst := map[string]any{"input": "what is 2+2", "output": "3"}
		got := Merge(dst, map[string]any{"output": "4"})

		assert.Equal(t, "what is 2+2", got["input"])
		assert.Equal(t, "4", got["output"])
	})

	t.Run("absent keys never erase prior state", func(t *testing.T) {
		dst := map[string]any{"input": "q", "expected": "a"}
		got := Merge(dst, map[string]any{"output": "b"})

		assert.Equal(t, "q", got["input"])
		assert.Equal(t, "a", got["expected"])
		assert.Equal(t, "b", got["output"])
	})

	t.Run("nested maps merge recursively", func(t *testing.T) {
		dst := map[string]any{
			"metadata": map[string]any{"model": "gpt-4o", "provider": "openai"},
		}
		got := Merge(dst, map[string]any{
			"metadata": map[string]any{"model": "claude-3-5-sonnet"},
		})

		meta := got["metadata"].(map[string]any)
		assert.Equal(t, "claude-3-5-sonnet", meta["model"])
		assert.Equal(t, "openai", meta["provider"])
	})

	t.Run("map replaces scalar and scalar replaces map", func(t *testing.T) {
		dst := map[string]any{"a": 1, "b": map[string]any{"x": 1}}
		got := Merge(dst, map[string]any{"a": map[string]any{"y": 2}, "b": 3})

		assert.Equal(t, map[string]any{"y": 2}, got["a"])
		assert.Equal(t, 3, got["b"])
	})

	t.Run("nil destination allocates", func(t *testing.T) {
		got := Merge(nil, map[string]any{"k": "v"})
		assert.Equal(t, map[string]any{"k": "v"}, got)
	})

	t.Run("merged values do not alias the source", func(t *testing.T) {
		src := map[string]any{"metrics": map[string]any{"tokens": 10}}
		got := Merge(map[string]any{}, src)

		src["metrics"].(map[string]any)["tokens"] = 99
		assert.Equal(t, 10, got["metrics"].(map[string]any)["tokens"])
	})
}

func TestClone(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Clone(nil))
	})

	t.Run("copies nested maps and slices", func(t *testing.T) {
		orig := map[string]any{
			"tags": []any{"a", "b"},
			"meta": map[string]any{"k": "v"},
		}
		cp := Clone(orig)

		cp["tags"].([]any)[0] = "z"
		cp["meta"].(map[string]any)["k"] = "w"

		assert.Equal(t, "a", orig["tags"].([]any)[0])
		assert.Equal(t, "v", orig["meta"].(map[string]any)["k"])
	})
}
