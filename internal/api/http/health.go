package http

import (
	"context"
	"net/http"
	"time"

	"github.com/traceline/traceline/internal/ingest"
	"github.com/traceline/traceline/internal/metrics"
)

// pingTimeout bounds the backend reachability probe.
const pingTimeout = 2 * time.Second

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	StorageMode   string `json:"storage_mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Error         string `json:"error,omitempty"`
}

// HealthHandler handles GET /health requests. It probes the storage backend
// so a dead database surfaces as degraded instead of a false healthy.
type HealthHandler struct {
	service     *ingest.Service
	sink        *metrics.Sink
	storageMode string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(service *ingest.Service, sink *metrics.Sink, storageMode string) *HealthHandler {
	return &HealthHandler{service: service, sink: sink, storageMode: storageMode}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Service:       "traceline",
		StorageMode:   h.storageMode,
		UptimeSeconds: int64(h.sink.Uptime().Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
