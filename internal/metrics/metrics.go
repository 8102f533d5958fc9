// Package metrics provides the pipeline's metrics sink. All mutable counters
// live here and are updated through the Sink API; no other component holds
// shared mutable state for observability.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink owns the pipeline counters and gauges. It is passive: increments never
// fail and never block beyond the underlying atomic operations. A Sink is
// injected by reference into every component that reports progress.
type Sink struct {
	registry *prometheus.Registry
	start    time.Time

	received          prometheus.Counter
	stored            prometheus.Counter
	rejected          *prometheus.CounterVec
	storageErrors     prometheus.Counter
	bulkWrites        prometheus.Counter
	partitionsCreated prometheus.Counter
	partitionsRetired *prometheus.CounterVec
	inflightWrites    prometheus.Gauge
}

// NewSink creates a sink with all collectors registered on a private registry.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
	}

	s.received = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "events_received_total",
		Help:      "Event envelopes received by the ingestion service",
	})
	s.stored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "events_stored_total",
		Help:      "Events durably persisted by the storage backend",
	})
	s.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "events_rejected_total",
		Help:      "Envelopes rejected by validation, by reason",
	}, []string{"reason"})
	s.storageErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "storage_errors_total",
		Help:      "Bulk writes that failed terminally, after retry exhaustion or a non-retryable error",
	})
	s.bulkWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "bulk_writes_total",
		Help:      "Successful bulk write operations",
	})
	s.partitionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "partitions_created_total",
		Help:      "Storage partitions created lazily on first write",
	})
	s.partitionsRetired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceline",
		Name:      "partitions_retired_total",
		Help:      "Partitions archived or dropped by the retention operation",
	}, []string{"mode"})
	s.inflightWrites = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "traceline",
		Name:      "inflight_bulk_writes",
		Help:      "Bulk writes currently in progress",
	})

	s.registry.MustRegister(
		s.received,
		s.stored,
		s.rejected,
		s.storageErrors,
		s.bulkWrites,
		s.partitionsCreated,
		s.partitionsRetired,
		s.inflightWrites,
	)

	return s
}

// IncReceived records n envelopes arriving at the ingestion service.
func (s *Sink) IncReceived(n int) {
	s.received.Add(float64(n))
}

// IncStored records n events persisted by the storage backend.
func (s *Sink) IncStored(n int) {
	s.stored.Add(float64(n))
}

// IncRejected records n envelopes rejected for the given reason.
func (s *Sink) IncRejected(reason string, n int) {
	s.rejected.WithLabelValues(reason).Add(float64(n))
}

// IncStorageError records a bulk write that failed terminally, either after
// exhausting its retry budget or on a non-retryable error.
func (s *Sink) IncStorageError() {
	s.storageErrors.Inc()
}

// IncBulkWrite records one successful bulk write.
func (s *Sink) IncBulkWrite() {
	s.bulkWrites.Inc()
}

// IncPartitionCreated records one lazily created partition.
func (s *Sink) IncPartitionCreated() {
	s.partitionsCreated.Inc()
}

// IncPartitionRetired records one partition archived or dropped.
func (s *Sink) IncPartitionRetired(mode string) {
	s.partitionsRetired.WithLabelValues(mode).Inc()
}

// TrackBulkWrite marks a bulk write as in progress; call the returned
// function when it finishes.
func (s *Sink) TrackBulkWrite() func() {
	s.inflightWrites.Inc()
	return s.inflightWrites.Dec
}

// Uptime returns how long the process has been running.
func (s *Sink) Uptime() time.Duration {
	return time.Since(s.start)
}

// Handler returns the pull-scrape HTTP handler for GET /metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
