package ingest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/traceline/traceline/internal/config"
	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/pkg/types"
)

// fakeStore records bulk writes and can be programmed to fail.
type fakeStore struct {
	records  []types.EventRecord
	writes   int
	failFor  int  // fail the first N writes with a retryable error
	failHard bool // fail every write with a non-retryable error
}

func (f *fakeStore) BulkWrite(ctx context.Context, records []types.EventRecord) error {
	f.writes++
	if f.failHard {
		return tlerrors.NewInternalError("broken", nil)
	}
	if f.writes <= f.failFor {
		return tlerrors.NewStorageError(tlerrors.CodeBulkWriteFailed, "transient", nil)
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func testRetryPolicy() config.IngestConfig {
	return config.IngestConfig{
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
	}
}

func envelope(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func validEnvelope(t *testing.T, sessionID string) json.RawMessage {
	return envelope(t, map[string]interface{}{
		"event_type": "tool_result",
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func TestIngestBatchAllValid(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	batch := []json.RawMessage{
		validEnvelope(t, "sess-1"),
		validEnvelope(t, "sess-1"),
		validEnvelope(t, "sess-2"),
	}

	res, err := svc.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Submitted != 3 || res.Accepted != 3 {
		t.Errorf("result = %d/%d, want 3/3", res.Accepted, res.Submitted)
	}
	if len(store.records) != 3 {
		t.Errorf("stored %d records, want 3", len(store.records))
	}
}

func TestIngestBatchPartialAcceptance(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	// Five valid, two missing their session_id key entirely.
	batch := []json.RawMessage{
		validEnvelope(t, "sess-1"),
		validEnvelope(t, "sess-1"),
		envelope(t, map[string]interface{}{
			"event_type": "tool_result",
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		}),
		validEnvelope(t, "sess-2"),
		validEnvelope(t, "sess-2"),
		envelope(t, map[string]interface{}{
			"event_type": "tool_result",
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		}),
		validEnvelope(t, "sess-3"),
	}

	res, err := svc.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Submitted != 7 || res.Accepted != 5 {
		t.Errorf("result = %d/%d, want 5/7", res.Accepted, res.Submitted)
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("rejected %d envelopes, want 2", len(res.Rejected))
	}
	for idx, reason := range res.Rejected {
		if reason != types.ReasonMissingSessionID {
			t.Errorf("envelope %d rejected for %s, want %s", idx, reason, types.ReasonMissingSessionID)
		}
	}
	if len(store.records) != 5 {
		t.Errorf("stored %d records, want 5", len(store.records))
	}
}

func TestIngestBatchEmptySessionIDAccepted(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	res, err := svc.IngestBatch(context.Background(), []json.RawMessage{
		validEnvelope(t, ""),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1 (empty session is unattributed, not invalid)", res.Accepted)
	}
	if store.records[0].SessionID != "" {
		t.Errorf("stored session = %q, want empty", store.records[0].SessionID)
	}
}

func TestIngestBatchRejectionReasons(t *testing.T) {
	tests := []struct {
		name   string
		env    json.RawMessage
		reason string
	}{
		{
			"missing event_type",
			json.RawMessage(`{"session_id":"s","timestamp":"2026-08-30T10:00:00Z"}`),
			types.ReasonMissingEventType,
		},
		{
			"empty event_type",
			json.RawMessage(`{"event_type":"","session_id":"s","timestamp":"2026-08-30T10:00:00Z"}`),
			types.ReasonMissingEventType,
		},
		{
			"bad timestamp",
			json.RawMessage(`{"event_type":"t","session_id":"s","timestamp":"yesterday"}`),
			types.ReasonBadTimestamp,
		},
		{
			"not an object",
			json.RawMessage(`[1,2,3]`),
			types.ReasonMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			svc := NewService(store, metrics.NewSink(), testRetryPolicy())

			res, err := svc.IngestBatch(context.Background(), []json.RawMessage{tt.env})
			if err != nil {
				t.Fatalf("IngestBatch: %v", err)
			}
			if res.Accepted != 0 {
				t.Fatalf("accepted = %d, want 0", res.Accepted)
			}
			if got := res.Rejected[0]; got != tt.reason {
				t.Errorf("reason = %s, want %s", got, tt.reason)
			}
			if store.writes != 0 {
				t.Error("store should not be touched for an all-invalid batch")
			}
		})
	}
}

func TestIngestBatchRetriesTransientStorageFailure(t *testing.T) {
	store := &fakeStore{failFor: 2}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	res, err := svc.IngestBatch(context.Background(), []json.RawMessage{validEnvelope(t, "s")})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if res.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", res.Accepted)
	}
	if store.writes != 3 {
		t.Errorf("writes = %d, want 3", store.writes)
	}
}

func TestIngestBatchFailsAfterRetryExhaustion(t *testing.T) {
	store := &fakeStore{failFor: 1 << 30}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	res, err := svc.IngestBatch(context.Background(), []json.RawMessage{validEnvelope(t, "s")})
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if res.Accepted != 0 {
		t.Errorf("accepted = %d, want 0", res.Accepted)
	}
	if store.writes != 3 {
		t.Errorf("writes = %d, want 3 (the attempt cap)", store.writes)
	}
}

func TestIngestBatchDoesNotRetryNonRetryableFailure(t *testing.T) {
	store := &fakeStore{failHard: true}
	svc := NewService(store, metrics.NewSink(), testRetryPolicy())

	_, err := svc.IngestBatch(context.Background(), []json.RawMessage{validEnvelope(t, "s")})
	if err == nil {
		t.Fatal("expected error")
	}
	if store.writes != 1 {
		t.Errorf("writes = %d, want 1", store.writes)
	}
}

// scrapeSink renders the sink's exposition text so tests can assert counter
// values by sample line.
func scrapeSink(t *testing.T, sink *metrics.Sink) string {
	t.Helper()
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestStorageErrorCounterCountsTerminalFailuresOnce(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		want  string
	}{
		// Three failed attempts are one terminal failure, not three.
		{"retry exhaustion", &fakeStore{failFor: 1 << 30}, "traceline_storage_errors_total 1"},
		{"non-retryable failure", &fakeStore{failHard: true}, "traceline_storage_errors_total 1"},
		{"transient then success", &fakeStore{failFor: 2}, "traceline_storage_errors_total 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := metrics.NewSink()
			svc := NewService(tt.store, sink, testRetryPolicy())

			svc.IngestBatch(context.Background(), []json.RawMessage{validEnvelope(t, "s")})

			if body := scrapeSink(t, sink); !strings.Contains(body, tt.want) {
				t.Errorf("metrics output missing %q", tt.want)
			}
		})
	}
}
