package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, s *Sink) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestSinkCountersAppearInScrape(t *testing.T) {
	s := NewSink()

	s.IncReceived(7)
	s.IncStored(5)
	s.IncRejected("missing_session_id", 2)
	s.IncBulkWrite()
	s.IncStorageError()
	s.IncPartitionCreated()
	s.IncPartitionRetired("archive")

	body := scrape(t, s)

	wants := []string{
		"traceline_events_received_total 7",
		"traceline_events_stored_total 5",
		`traceline_events_rejected_total{reason="missing_session_id"} 2`,
		"traceline_bulk_writes_total 1",
		"traceline_storage_errors_total 1",
		"traceline_partitions_created_total 1",
		`traceline_partitions_retired_total{mode="archive"} 1`,
	}
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestSinkTrackBulkWriteGauge(t *testing.T) {
	s := NewSink()

	done := s.TrackBulkWrite()
	if body := scrape(t, s); !strings.Contains(body, "traceline_inflight_bulk_writes 1") {
		t.Error("gauge not incremented while write in flight")
	}

	done()
	if body := scrape(t, s); !strings.Contains(body, "traceline_inflight_bulk_writes 0") {
		t.Error("gauge not decremented after write finished")
	}
}

func TestSinksAreIsolated(t *testing.T) {
	a := NewSink()
	b := NewSink()

	a.IncReceived(3)

	if body := scrape(t, b); strings.Contains(body, "traceline_events_received_total 3") {
		t.Error("sinks share state; registries must be private")
	}
}

func TestUptimeAdvances(t *testing.T) {
	s := NewSink()
	if s.Uptime() < 0 {
		t.Error("uptime went backwards")
	}
}
