package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/golang/snappy"

	"github.com/traceline/traceline/internal/ingest"
)

// maxBodyBytes caps the decoded request body size.
const maxBodyBytes = 32 << 20

// EventsHandler handles POST /events requests for single events.
type EventsHandler struct {
	service *ingest.Service
}

// NewEventsHandler creates a new single-event handler.
func NewEventsHandler(service *ingest.Service) *EventsHandler {
	return &EventsHandler{service: service}
}

// ServeHTTP handles a single-event submission.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	res, err := h.service.IngestOne(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to store event: %v", err), requestID)
		return
	}
	if res.Accepted == 0 {
		writeError(w, http.StatusBadRequest, res.Rejected[0], requestID)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// BatchHandler handles POST /events/batch requests.
type BatchHandler struct {
	service *ingest.Service
}

// NewBatchHandler creates a new batch ingest handler.
func NewBatchHandler(service *ingest.Service) *BatchHandler {
	return &BatchHandler{service: service}
}

// ServeHTTP handles a batch submission. The body is a JSON array of event
// envelopes, optionally snappy-compressed. Invalid envelopes are rejected
// individually; the response reports accepted < submitted rather than failing
// the batch.
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	var envelopes []json.RawMessage
	if err := json.Unmarshal(body, &envelopes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("body must be a JSON array: %v", err), requestID)
		return
	}
	if len(envelopes) == 0 {
		writeError(w, http.StatusBadRequest, "batch must not be empty", requestID)
		return
	}

	res, err := h.service.IngestBatch(r.Context(), envelopes)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to store batch: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// readBody reads and, when Content-Encoding requests it, decompresses the
// request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if r.Header.Get("Content-Encoding") == "snappy" {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("snappy decode failed: %v", err)
		}
		return decoded, nil
	}
	return body, nil
}
