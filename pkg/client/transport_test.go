package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"

	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/pkg/types"
)

func testBatch(n int) *types.Batch {
	b := &types.Batch{ID: "batch-1"}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, types.EventRecord{
			EventType: "tool_result",
			SessionID: "sess-1",
		})
	}
	return b
}

func TestHTTPTransportSend(t *testing.T) {
	var gotBody []byte
	var gotBatchID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotBatchID = r.Header.Get("X-Batch-ID")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 0, false)
	if err := tr.Send(context.Background(), testBatch(3)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotBatchID != "batch-1" {
		t.Errorf("batch ID header = %q, want batch-1", gotBatchID)
	}
	var records []types.EventRecord
	if err := json.Unmarshal(gotBody, &records); err != nil {
		t.Fatalf("body is not a JSON array: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records on the wire, want 3", len(records))
	}
}

func TestHTTPTransportCompressed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "snappy" {
			t.Error("missing snappy content encoding")
		}
		body, _ := io.ReadAll(r.Body)
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("snappy decode: %v", err)
		}
		var records []types.EventRecord
		if err := json.Unmarshal(decoded, &records); err != nil {
			t.Errorf("decoded body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 0, true)
	if err := tr.Send(context.Background(), testBatch(2)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestHTTPTransportStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error is retryable", http.StatusInternalServerError, true},
		{"unavailable is retryable", http.StatusServiceUnavailable, true},
		{"bad request is not retryable", http.StatusBadRequest, false},
		{"payload too large is not retryable", http.StatusRequestEntityTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr := NewHTTPTransport(srv.URL, 0, false)
			err := tr.Send(context.Background(), testBatch(1))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := tlerrors.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestHTTPTransportNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tr := NewHTTPTransport(srv.URL, 0, false)
	err := tr.Send(context.Background(), testBatch(1))
	if err == nil {
		t.Fatal("expected error")
	}
	if !tlerrors.IsRetryable(err) {
		t.Error("network failure should be retryable")
	}
	if tlerrors.GetCode(err) != tlerrors.CodeSendFailed {
		t.Errorf("code = %s, want %s", tlerrors.GetCode(err), tlerrors.CodeSendFailed)
	}
}

func TestFileTransportAppendsAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")

	ft, err := NewFileTransport(path)
	if err != nil {
		t.Fatalf("NewFileTransport: %v", err)
	}
	if err := ft.Send(context.Background(), testBatch(2)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ft.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and append more; earlier lines must survive.
	ft, err = NewFileTransport(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := ft.Send(context.Background(), testBatch(1)); err != nil {
		t.Fatalf("Send after reopen: %v", err)
	}
	ft.Close()

	data, err := readLines(path)
	if err != nil {
		t.Fatalf("read spool: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("spool has %d records, want 3", len(data))
	}
	for i, rec := range data {
		if rec.EventType != "tool_result" {
			t.Errorf("record %d event type = %s", i, rec.EventType)
		}
	}
}

func readLines(path string) ([]types.EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []types.EventRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec types.EventRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
