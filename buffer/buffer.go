// Package buffer persists partial span data for the current run.
//
// Long-running evaluations log spans incrementally; scorers and
// reporters later need everything logged under a given root span, even
// after the records left the in-process queue. SpanBuffer keeps one
// append-only JSON-lines file per run and folds the lines back into
// per-span records on read.
//
// The buffer answers negative lookups from an in-memory root set
// without touching disk, and every disk failure degrades to a soft
// miss. It is an auxiliary store, never the source of truth.
package buffer

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/weftline/weft-go/internal/fields"
	"github.com/weftline/weft-go/internal/paths"
)

// Record is the folded span data returned by Get: everything written
// for one span under one root.
type Record struct {
	RootSpanID string         `json:"root_span_id"`
	SpanID     string         `json:"span_id"`
	Data       map[string]any `json:"data"`
}

// SpanBuffer accumulates partial span data for one run. Safe for
// concurrent use.
type SpanBuffer struct {
	mu       sync.Mutex
	log      *zap.Logger
	observe  func(written int)
	path     string
	file     *os.File // nil until the first write
	roots    map[string]struct{}
	disabled bool
}

// Option configures a SpanBuffer.
type Option func(*SpanBuffer)

// WithDir places the buffer file under dir instead of the default
// per-user temp location.
func WithDir(dir string) Option {
	return func(b *SpanBuffer) {
		b.path = filepath.Join(dir, filepath.Base(b.path))
	}
}

// WithLogger attaches a diagnostic logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *SpanBuffer) {
		if log != nil {
			b.log = log
		}
	}
}

// WithDisabled returns the buffer pre-disabled: writes are ignored and
// every lookup answers absent. Used when spans are known to execute
// somewhere else, such as inside a remote eval runner.
func WithDisabled() Option {
	return func(b *SpanBuffer) {
		b.disabled = true
	}
}

// WithObserver reports the byte size of each appended line to fn.
func WithObserver(fn func(written int)) Option {
	return func(b *SpanBuffer) {
		b.observe = fn
	}
}

// New returns a buffer for a fresh run. No file is created until the
// first write.
func New(opts ...Option) *SpanBuffer {
	b := &SpanBuffer{
		log:   zap.NewNop(),
		path:  filepath.Join(paths.SpanBufferDir(), "run-"+newRunID()+".jsonl"),
		roots: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newRunID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id.String()
}

// Path returns the location of the buffer file. The file may not exist
// yet.
func (b *SpanBuffer) Path() string {
	return b.path
}

// Write appends partial data for one span. Repeated writes for the same
// (root span, span) pair accumulate and are folded together on read.
func (b *SpanBuffer) Write(rootSpanID, spanID string, data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return nil
	}
	if rootSpanID == "" || spanID == "" {
		return errors.New("span buffer: root span and span IDs are required")
	}

	if b.file == nil {
		if err := b.open(); err != nil {
			return err
		}
	}

	line, err := sonic.Marshal(Record{RootSpanID: rootSpanID, SpanID: spanID, Data: data})
	if err != nil {
		return fmt.Errorf("span buffer: encode record: %w", err)
	}
	line = append(line, '\n')

	if _, err := b.file.Write(line); err != nil {
		return fmt.Errorf("span buffer: append record: %w", err)
	}
	b.roots[rootSpanID] = struct{}{}
	if b.observe != nil {
		b.observe(len(line))
	}
	return nil
}

func (b *SpanBuffer) open() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("span buffer: create directory: %w", err)
	}
	file, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("span buffer: open %s: %w", b.path, err)
	}
	b.file = file
	return nil
}

// Has reports whether any data is buffered under rootSpanID. Answered
// from memory; never touches disk.
func (b *SpanBuffer) Has(rootSpanID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.roots[rootSpanID]
	return ok && !b.disabled
}

// Get returns the folded records under rootSpanID, one per span in
// first-write order. The second return is false when nothing is
// buffered for that root.
func (b *SpanBuffer) Get(rootSpanID string) ([]Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return nil, false
	}
	if _, ok := b.roots[rootSpanID]; !ok {
		return nil, false
	}

	file, err := os.Open(b.path)
	if err != nil {
		b.log.Debug("span buffer read failed", zap.String("path", b.path), zap.Error(err))
		return nil, false
	}
	defer file.Close()

	var (
		order  []string
		bySpan = make(map[string]*Record)
	)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			b.fold(rootSpanID, line, &order, bySpan)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			b.log.Debug("span buffer scan failed", zap.String("path", b.path), zap.Error(err))
			break
		}
	}

	records := make([]Record, 0, len(order))
	for _, spanID := range order {
		records = append(records, *bySpan[spanID])
	}
	return records, true
}

// fold merges one buffered line into the per-span accumulation,
// skipping lines for other roots and lines that fail to decode.
func (b *SpanBuffer) fold(rootSpanID string, line []byte, order *[]string, bySpan map[string]*Record) {
	var rec Record
	if err := sonic.Unmarshal(line, &rec); err != nil {
		b.log.Debug("span buffer line skipped", zap.Error(err))
		return
	}
	if rec.RootSpanID != rootSpanID || rec.SpanID == "" {
		return
	}

	if existing, ok := bySpan[rec.SpanID]; ok {
		existing.Data = fields.Merge(existing.Data, rec.Data)
		return
	}
	*order = append(*order, rec.SpanID)
	bySpan[rec.SpanID] = &rec
}

// Clear forgets the given roots. Their rows stay in the file but become
// unreachable; the file itself is reclaimed by ClearAll or Dispose.
func (b *SpanBuffer) Clear(rootSpanIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range rootSpanIDs {
		delete(b.roots, id)
	}
}

// ClearAll forgets every root and truncates the buffer file.
func (b *SpanBuffer) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roots = make(map[string]struct{})
	if b.file == nil {
		return
	}
	if err := b.file.Truncate(0); err != nil {
		b.log.Debug("span buffer truncate failed", zap.String("path", b.path), zap.Error(err))
	}
}

// Dispose closes the buffer and deletes its file. The buffer stays
// usable; a later write starts a fresh file at the same path.
func (b *SpanBuffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Disable drops all buffered state and ignores every later write.
func (b *SpanBuffer) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.disabled = true
}

func (b *SpanBuffer) reset() {
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		b.log.Debug("span buffer remove failed", zap.String("path", b.path), zap.Error(err))
	}
	// Shared with other runs; removal only succeeds for the last one.
	os.Remove(filepath.Dir(b.path))
	b.roots = make(map[string]struct{})
}
