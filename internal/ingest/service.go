// Package ingest validates incoming event envelopes and drives them into the
// storage backend with a bounded retry policy. Partial acceptance is the rule:
// invalid envelopes are rejected individually and never fail their batch.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/traceline/traceline/internal/config"
	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/internal/storage"
	"github.com/traceline/traceline/pkg/types"
)

// Result summarizes one batch submission.
type Result struct {
	// Submitted is the number of envelopes received.
	Submitted int `json:"submitted"`

	// Accepted is the number of envelopes that passed validation and were
	// durably stored. Accepted < Submitted means some were rejected.
	Accepted int `json:"accepted"`

	// Rejected lists the per-envelope rejection reasons, keyed by the
	// envelope's position in the batch.
	Rejected map[int]string `json:"rejected,omitempty"`
}

// Service accepts event batches, validates each envelope, and persists the
// survivors.
type Service struct {
	store storage.EventStore
	sink  *metrics.Sink
	retry config.IngestConfig
}

// NewService creates an ingest service over the given store.
func NewService(store storage.EventStore, sink *metrics.Sink, retry config.IngestConfig) *Service {
	return &Service{store: store, sink: sink, retry: retry}
}

// IngestBatch validates every envelope in the batch and stores the valid ones.
// An envelope that fails validation is counted and skipped; it never blocks
// its siblings. A storage failure after retries is returned as an error and
// the batch is not acknowledged.
func (s *Service) IngestBatch(ctx context.Context, envelopes []json.RawMessage) (Result, error) {
	res := Result{Submitted: len(envelopes)}
	s.sink.IncReceived(len(envelopes))

	records := make([]types.EventRecord, 0, len(envelopes))
	for i, raw := range envelopes {
		rec, err := types.ParseEnvelope(raw)
		if err != nil {
			var envErr *types.EnvelopeError
			reason := types.ReasonMalformed
			if errors.As(err, &envErr) {
				reason = envErr.Reason
			}
			s.sink.IncRejected(reason, 1)
			if res.Rejected == nil {
				res.Rejected = make(map[int]string)
			}
			res.Rejected[i] = reason
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return res, nil
	}

	if err := s.writeWithRetry(ctx, records); err != nil {
		return res, err
	}

	res.Accepted = len(records)
	s.sink.IncStored(len(records))
	return res, nil
}

// IngestOne validates and stores a single envelope.
func (s *Service) IngestOne(ctx context.Context, envelope json.RawMessage) (Result, error) {
	return s.IngestBatch(ctx, []json.RawMessage{envelope})
}

// writeWithRetry drives the bulk write through the bounded backoff policy.
// Non-retryable storage errors and context cancellation fail immediately.
// Terminal failures count once against the storage error counter, regardless
// of how many attempts the backend saw.
func (s *Service) writeWithRetry(ctx context.Context, records []types.EventRecord) error {
	delay := s.retry.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= s.retry.RetryMaxAttempts; attempt++ {
		lastErr = s.store.BulkWrite(ctx, records)
		if lastErr == nil {
			return nil
		}
		if !tlerrors.IsRetryable(lastErr) {
			s.sink.IncStorageError()
			return lastErr
		}
		if attempt == s.retry.RetryMaxAttempts {
			break
		}

		log.Printf("ingest: bulk write attempt %d/%d failed, retrying in %s: %v",
			attempt, s.retry.RetryMaxAttempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.retry.RetryMaxDelay {
			delay = s.retry.RetryMaxDelay
		}
	}

	s.sink.IncStorageError()
	log.Printf("ingest: bulk write failed after %d attempts: %v", s.retry.RetryMaxAttempts, lastErr)
	return lastErr
}

// Ping reports backend health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
