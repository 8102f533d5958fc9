package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/traceline/traceline/internal/config"
	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/internal/ingest"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/pkg/types"
)

// deadStore fails every operation, simulating an unreachable backend.
type deadStore struct{}

func (deadStore) BulkWrite(ctx context.Context, records []types.EventRecord) error {
	return tlerrors.NewStorageError(tlerrors.CodeUnreachable, "backend down", nil)
}
func (deadStore) Ping(ctx context.Context) error {
	return tlerrors.NewStorageError(tlerrors.CodeUnreachable, "backend down", nil)
}
func (deadStore) Close() error { return nil }

func TestHealthHandlerHealthy(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHealthHandler(svc, metrics.NewSink(), "file")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.StorageMode != "file" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealthHandlerDegradedWhenBackendDown(t *testing.T) {
	svc := ingest.NewService(deadStore{}, metrics.NewSink(), config.IngestConfig{
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    time.Millisecond,
	})
	handler := NewHealthHandler(svc, metrics.NewSink(), "bulk-store")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.Error == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestBatchHandlerUnavailableWhenBackendDown(t *testing.T) {
	svc := ingest.NewService(deadStore{}, metrics.NewSink(), config.IngestConfig{
		RetryMaxAttempts: 2,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    time.Millisecond,
	})
	handler := DefaultMiddleware()(NewBatchHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/events/batch",
		bytes.NewReader(batchBody(t, validEnvelope("s"))))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 after storage retry exhaustion", rec.Code)
	}
}
