package weft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRow(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	rec := &LogRecord{
		RowID:       "row-1",
		SpanID:      "span-1",
		RootSpanID:  "root-1",
		SpanParents: []string{"span-0"},
		ObjectFields: map[string]string{
			"project_id": "p-1",
			"log_id":     "g",
		},
		Fields: map[string]any{
			"input":  "question",
			"output": "answer",
		},
		Created: created,
	}

	row := rec.row()
	assert.Equal(t, "row-1", row["id"])
	assert.Equal(t, "span-1", row["span_id"])
	assert.Equal(t, "root-1", row["root_span_id"])
	assert.Equal(t, []string{"span-0"}, row["span_parents"])
	assert.Equal(t, "p-1", row["project_id"])
	assert.Equal(t, "g", row["log_id"])
	assert.Equal(t, "question", row["input"])
	assert.Equal(t, "2026-03-14T09:26:53.589793238Z", row["created"])
	assert.NotContains(t, row, "_is_merge")
}

func TestRecordRowIdentityWinsCollisions(t *testing.T) {
	rec := &LogRecord{
		RowID:      "row-1",
		SpanID:     "span-1",
		RootSpanID: "root-1",
		Fields: map[string]any{
			"id":      "spoofed",
			"span_id": "spoofed",
		},
	}

	row := rec.row()
	assert.Equal(t, "row-1", row["id"])
	assert.Equal(t, "span-1", row["span_id"])
}

func TestRecordRowMerge(t *testing.T) {
	rec := &LogRecord{
		RowID:      "row-1",
		SpanID:     "span-1",
		RootSpanID: "root-1",
		Fields:     map[string]any{"scores": map[string]any{"accuracy": 1.0}},
		IsMerge:    true,
	}

	row := rec.row()
	assert.Equal(t, true, row["_is_merge"])
	require.NotContains(t, row, "span_parents")
	require.NotContains(t, row, "created")
}

func TestRecordRowLocalTimeNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	rec := &LogRecord{
		RowID:      "row-1",
		SpanID:     "span-1",
		RootSpanID: "root-1",
		Created:    time.Date(2026, 3, 14, 11, 0, 0, 0, loc),
	}

	row := rec.row()
	assert.Equal(t, "2026-03-14T09:00:00Z", row["created"])
}
