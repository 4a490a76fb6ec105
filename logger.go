package weft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/weftline/weft-go/internal/metrics"
)

// logsPath receives batched span records.
const logsPath = "/v1/logs"

// dropWarnInterval rate-limits queue overflow warnings.
const dropWarnInterval = 10 * time.Second

// Transport exchanges JSON payloads with the API. The production
// implementation lives in internal/transport; tests substitute fakes.
type Transport interface {
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
	Get(ctx context.Context, path string, query map[string]string) ([]byte, error)
}

// RecordSink consumes finished span records.
type RecordSink interface {
	// Log enqueues items without blocking the caller.
	Log(items ...*Deferred[*LogRecord])

	// Flush materializes and delivers everything enqueued so far,
	// returning the joined errors of batches that exhausted their
	// retry budget.
	Flush(ctx context.Context) error

	// Disable permanently drops all queued and future items.
	Disable()
}

// ============================================================================
// Background Logger
// ============================================================================

// BackgroundLogger ships finished records to the API off the hot path.
//
// Log appends to a bounded in-memory queue and returns immediately; a
// background goroutine drains the queue on an interval, or sooner once
// a full batch is waiting. When the queue overflows, the oldest items
// are dropped so a stalled API costs bounded memory, never blocked
// application code.
type BackgroundLogger struct {
	tr  Transport
	log *zap.Logger
	met *metrics.Metrics

	queueSize  int
	batchSize  int
	batchBytes int
	retries    int

	mu    sync.Mutex
	queue []*Deferred[*LogRecord]

	warnMu   sync.Mutex
	lastWarn time.Time

	// flushMu serializes flush passes so batches never interleave.
	flushMu sync.Mutex

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	disabled  atomic.Bool
}

// NewBackgroundLogger starts a logger posting through tr. A nil cfg uses
// defaults; nil log and met disable diagnostics and metrics.
func NewBackgroundLogger(tr Transport, cfg *Config, log *zap.Logger, met *metrics.Metrics) *BackgroundLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := &BackgroundLogger{
		tr:         tr,
		log:        log,
		met:        met,
		queueSize:  cfg.QueueSize,
		batchSize:  cfg.BatchSize,
		batchBytes: cfg.BatchBytes,
		retries:    cfg.FlushRetries,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	l.wg.Add(1)
	go l.loop(cfg.FlushInterval)
	return l
}

// Log enqueues items. Never blocks: past capacity the oldest queued
// items are discarded, counted, and warned about at most once per
// interval.
func (l *BackgroundLogger) Log(items ...*Deferred[*LogRecord]) {
	if len(items) == 0 {
		return
	}
	if l.disabled.Load() {
		l.met.IncDropped(len(items))
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, items...)
	dropped := 0
	if over := len(l.queue) - l.queueSize; over > 0 {
		dropped = over
		for i := 0; i < over; i++ {
			l.queue[i] = nil
		}
		l.queue = l.queue[over:]
	}
	depth := len(l.queue)
	l.mu.Unlock()

	l.met.IncEnqueued(len(items))
	l.met.SetQueueDepth(depth)
	if dropped > 0 {
		l.met.IncDropped(dropped)
		l.warnDropped(dropped)
	}
	if depth >= l.batchSize {
		l.kick()
	}
}

// Flush drains the queue, materializes the records, and posts them in
// batches. Batches that exhaust their retry budget are reported in the
// returned error; remaining batches are still attempted.
func (l *BackgroundLogger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	items := l.queue
	l.queue = nil
	l.mu.Unlock()
	l.met.SetQueueDepth(0)

	// Disabled loggers drop drained items without materializing them.
	if l.disabled.Load() || len(items) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { l.met.ObserveFlush(time.Since(start)) }()

	records, errs := l.materialize(items)
	for _, batch := range l.buildBatches(records) {
		if err := l.submit(ctx, batch); err != nil {
			l.met.IncFlushFailure()
			errs = append(errs, err)
			continue
		}
		l.met.IncBatch()
		l.met.IncSubmitted(batch.count)
	}
	return errors.Join(errs...)
}

// Disable permanently stops the logger. Queued items and anything
// logged afterwards are discarded without ever being materialized.
func (l *BackgroundLogger) Disable() {
	l.disabled.Store(true)

	l.mu.Lock()
	n := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if n > 0 {
		l.met.IncDropped(n)
	}
	l.met.SetQueueDepth(0)
}

// Close stops the background goroutine and flushes what remains.
func (l *BackgroundLogger) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.Flush(ctx)
	})
	return err
}

func (l *BackgroundLogger) loop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		case <-l.wake:
		}
		if err := l.Flush(context.Background()); err != nil {
			l.log.Warn("background flush failed", zap.Error(err))
		}
	}
}

func (l *BackgroundLogger) kick() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *BackgroundLogger) warnDropped(n int) {
	l.warnMu.Lock()
	defer l.warnMu.Unlock()
	if time.Since(l.lastWarn) < dropWarnInterval {
		return
	}
	l.lastWarn = time.Now()
	l.log.Warn("record queue full, dropping oldest records",
		zap.Int("dropped", n),
		zap.Int("capacity", l.queueSize))
}

// materialize runs the deferred computations. Items whose computation
// fails are dropped here and their errors surfaced from Flush.
func (l *BackgroundLogger) materialize(items []*Deferred[*LogRecord]) ([]*LogRecord, []error) {
	records := make([]*LogRecord, 0, len(items))
	var errs []error
	for _, item := range items {
		rec, err := materializeOne(item)
		if err != nil {
			l.met.IncDropped(1)
			l.log.Warn("record dropped", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func materializeOne(item *Deferred[*LogRecord]) (rec *LogRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("record computation panicked: %v", r)
		}
	}()

	rec = item.Value()
	if rec != nil && rec.resolveErr != nil {
		return nil, fmt.Errorf("record %s: %w", rec.SpanID, rec.resolveErr)
	}
	return rec, nil
}

type recordBatch struct {
	body  []byte
	count int
}

// buildBatches serializes records into request bodies bounded by record
// count and payload size. A single oversized record still ships alone
// rather than being dropped.
func (l *BackgroundLogger) buildBatches(records []*LogRecord) []recordBatch {
	var (
		batches []recordBatch
		buf     bytes.Buffer
		count   int
	)
	seal := func() {
		if count == 0 {
			return
		}
		buf.WriteString("]}")
		body := make([]byte, buf.Len())
		copy(body, buf.Bytes())
		batches = append(batches, recordBatch{body: body, count: count})
		buf.Reset()
		count = 0
	}

	for _, rec := range records {
		row, err := sonic.Marshal(rec.row())
		if err != nil {
			l.met.IncDropped(1)
			l.log.Warn("record serialization failed",
				zap.String("span_id", rec.SpanID),
				zap.Error(err))
			continue
		}
		if count > 0 && (count >= l.batchSize || buf.Len()+len(row)+3 > l.batchBytes) {
			seal()
		}
		if count == 0 {
			buf.WriteString(`{"rows":[`)
		} else {
			buf.WriteByte(',')
		}
		buf.Write(row)
		count++
	}
	seal()
	return batches
}

// submit posts one batch, retrying the intact body until the budget is
// exhausted. The transport handles transient failures on its own; this
// layer rides out longer API outages.
func (l *BackgroundLogger) submit(ctx context.Context, batch recordBatch) error {
	var err error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			l.met.IncBatchRetry()
			select {
			case <-ctx.Done():
				return fmt.Errorf("submit %d records: %w", batch.count, ctx.Err())
			case <-time.After(submitBackoff(attempt)):
			}
		}
		if _, err = l.tr.Post(ctx, logsPath, batch.body); err == nil {
			return nil
		}
		l.log.Debug("batch submission failed",
			zap.Int("attempt", attempt+1),
			zap.Int("records", batch.count),
			zap.Error(err))
	}
	return fmt.Errorf("submit %d records after %d attempts: %w", batch.count, l.retries+1, err)
}

func submitBackoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << (attempt - 1)
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}

// ============================================================================
// Memory Logger
// ============================================================================

// MemoryLogger is a RecordSink that keeps materialized records in
// memory for inspection. Tests and offline tooling use it in place of
// the background logger.
type MemoryLogger struct {
	mu       sync.Mutex
	queue    []*Deferred[*LogRecord]
	records  []*LogRecord
	disabled bool
}

// NewMemoryLogger returns an empty in-memory sink.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log enqueues items unmaterialized, mirroring the background logger's
// laziness.
func (m *MemoryLogger) Log(items ...*Deferred[*LogRecord]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return
	}
	m.queue = append(m.queue, items...)
}

// Flush materializes queued items into the inspection buffer.
func (m *MemoryLogger) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.queue
	m.queue = nil
	if m.disabled {
		return nil
	}

	var errs []error
	for _, item := range items {
		rec, err := materializeOne(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec != nil {
			m.records = append(m.records, rec)
		}
	}
	return errors.Join(errs...)
}

// Disable drops queued items and ignores everything logged afterwards.
func (m *MemoryLogger) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
	m.queue = nil
}

// Records returns the materialized records accumulated so far.
func (m *MemoryLogger) Records() []*LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LogRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Reset clears both the queue and the inspection buffer.
func (m *MemoryLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.records = nil
}
