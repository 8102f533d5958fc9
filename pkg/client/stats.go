package client

import "sync/atomic"

// Stats holds the client's delivery counters. Producer processes stay
// dependency-light, so these are plain atomics rather than a scrape surface;
// the ingestion service owns the pull-based metrics.
type Stats struct {
	emitted        atomic.Uint64
	sent           atomic.Uint64
	flushes        atomic.Uint64
	retries        atomic.Uint64
	droppedRetries atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the client counters.
type StatsSnapshot struct {
	// Emitted counts records accepted by Emit.
	Emitted uint64
	// Sent counts records delivered by the transport.
	Sent uint64
	// Flushes counts successful batch deliveries.
	Flushes uint64
	// Retries counts failed send attempts that were retried.
	Retries uint64
	// DroppedOverflow counts records shed when the buffer hit capacity.
	DroppedOverflow uint64
	// DroppedRetryExhausted counts records discarded after the retry cap.
	DroppedRetryExhausted uint64
}

// Snapshot returns a consistent-enough copy of the counters. Each field is
// read atomically; the set as a whole is not a transaction. DroppedOverflow
// lives on the Buffer and is filled in by Client.Stats.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Emitted:               s.emitted.Load(),
		Sent:                  s.sent.Load(),
		Flushes:               s.flushes.Load(),
		Retries:               s.retries.Load(),
		DroppedRetryExhausted: s.droppedRetries.Load(),
	}
}
