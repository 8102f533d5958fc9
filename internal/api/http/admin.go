package http

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/traceline/traceline/internal/archive"
	"github.com/traceline/traceline/internal/partition"
)

// RetireResponse represents the partition retire response.
type RetireResponse struct {
	Mode    string   `json:"mode"`
	Cutoff  string   `json:"cutoff"`
	Retired []string `json:"retired"`
}

// RetireHandler handles POST /admin/partitions/retire requests. It archives
// or drops every partition older than the retention cutoff. Only wired when
// the service runs against the bulk store.
type RetireHandler struct {
	manager *partition.Manager
	store   archive.ObjectStorage
	cutoff  func(time.Time) time.Time
}

// NewRetireHandler creates a new partition retire handler.
func NewRetireHandler(manager *partition.Manager, store archive.ObjectStorage, cutoff func(time.Time) time.Time) *RetireHandler {
	return &RetireHandler{manager: manager, store: store, cutoff: cutoff}
}

// ServeHTTP handles the retire request. The mode query parameter selects
// archive (default) or drop.
func (h *RetireHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "archive"
	}

	cutoff := h.cutoff(time.Now())
	log.Printf("admin: partition retire requested, mode=%s cutoff=%s", mode, cutoff.Format("2006-01-02"))

	var retired []partition.Partition
	var err error
	switch mode {
	case "archive":
		retired, err = h.manager.Archive(r.Context(), h.store, cutoff)
	case "drop":
		retired, err = h.manager.Drop(r.Context(), cutoff)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode: %s (must be archive or drop)", mode), requestID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("retire failed: %v", err), requestID)
		return
	}

	resp := RetireResponse{
		Mode:    mode,
		Cutoff:  cutoff.Format(time.RFC3339),
		Retired: make([]string, 0, len(retired)),
	}
	for _, p := range retired {
		resp.Retired = append(resp.Retired, p.Table)
	}

	writeJSON(w, http.StatusOK, resp)
}
