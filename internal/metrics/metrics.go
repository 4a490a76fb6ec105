// Package metrics exposes the SDK's own telemetry instruments.
//
// Instruments register against a caller-supplied Registerer so the SDK
// never claims names on the host application's default registry. A nil
// *Metrics is a valid no-op receiver, letting wiring stay optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the record pipeline's Prometheus instruments.
type Metrics struct {
	RecordsEnqueued  prometheus.Counter
	RecordsDropped   prometheus.Counter
	RecordsSubmitted prometheus.Counter
	Batches          prometheus.Counter
	BatchRetries     prometheus.Counter
	FlushFailures    prometheus.Counter
	FlushDuration    prometheus.Histogram
	QueueDepth       prometheus.Gauge
	CacheHits        *prometheus.CounterVec
	CacheMisses      prometheus.Counter
	BufferWrites     prometheus.Counter
	BufferBytes      prometheus.Counter
}

// New creates the instrument set, registering on reg. A nil reg gets a
// private registry, which keeps the instruments live but unexported.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RecordsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_records_enqueued_total",
			Help: "Span records accepted into the background queue",
		}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_records_dropped_total",
			Help: "Span records dropped by queue overflow or disable",
		}),
		RecordsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_records_submitted_total",
			Help: "Span records delivered to the API",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_record_batches_total",
			Help: "Record batches submitted to the API",
		}),
		BatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_record_batch_retries_total",
			Help: "Batch submissions retried after a failure",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_flush_failures_total",
			Help: "Flushes that gave up after exhausting retries",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "weftline_flush_duration_seconds",
			Help:    "Wall time spent flushing the record queue",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "weftline_queue_depth",
			Help: "Span records currently waiting in the queue",
		}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weftline_object_cache_hits_total",
			Help: "Object cache hits by answering layer",
		}, []string{"layer"}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_object_cache_misses_total",
			Help: "Object cache lookups answered by neither layer",
		}),
		BufferWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_span_buffer_writes_total",
			Help: "Lines appended to the span buffer",
		}),
		BufferBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "weftline_span_buffer_bytes_total",
			Help: "Bytes appended to the span buffer",
		}),
	}
}

// IncEnqueued records n accepted queue items.
func (m *Metrics) IncEnqueued(n int) {
	if m == nil {
		return
	}
	m.RecordsEnqueued.Add(float64(n))
}

// IncDropped records n discarded queue items.
func (m *Metrics) IncDropped(n int) {
	if m == nil {
		return
	}
	m.RecordsDropped.Add(float64(n))
}

// IncSubmitted records n delivered records.
func (m *Metrics) IncSubmitted(n int) {
	if m == nil {
		return
	}
	m.RecordsSubmitted.Add(float64(n))
}

// IncBatch records one submitted batch.
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.Batches.Inc()
}

// IncBatchRetry records one retried batch submission.
func (m *Metrics) IncBatchRetry() {
	if m == nil {
		return
	}
	m.BatchRetries.Inc()
}

// IncFlushFailure records a flush that exhausted its retry budget.
func (m *Metrics) IncFlushFailure() {
	if m == nil {
		return
	}
	m.FlushFailures.Inc()
}

// ObserveFlush records the duration of one flush pass.
func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(d.Seconds())
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// ObserveCache records one object cache lookup. On a hit, layer names
// the layer that answered.
func (m *Metrics) ObserveCache(layer string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(layer).Inc()
		return
	}
	m.CacheMisses.Inc()
}

// AddBufferWrite records one span buffer append of n bytes.
func (m *Metrics) AddBufferWrite(n int) {
	if m == nil {
		return
	}
	m.BufferWrites.Inc()
	m.BufferBytes.Add(float64(n))
}
