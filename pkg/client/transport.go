package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang/snappy"

	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/pkg/types"
)

// Transport delivers one batch to its destination. Implementations report
// failure through the structured error types so the flush loop can decide
// between retrying and dropping.
type Transport interface {
	// Send delivers the batch. A nil return means the batch is durably out
	// of the client's hands (accepted by the backend or fsynced locally).
	Send(ctx context.Context, batch *types.Batch) error
}

// HTTPTransport sends batches to the ingestion service as a JSON array via
// POST /events/batch. It keeps a pooled connection to avoid per-call setup
// cost and never retries internally; retry policy lives in the flush loop.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	compress bool
}

// NewHTTPTransport creates a transport for the given backend base URL.
// When compress is true, request bodies are snappy-encoded.
func NewHTTPTransport(endpoint string, timeout time.Duration, compress bool) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		endpoint: endpoint,
		compress: compress,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send posts the batch to the ingestion service.
func (t *HTTPTransport) Send(ctx context.Context, batch *types.Batch) error {
	payload, err := json.Marshal(batch.Records)
	if err != nil {
		return tlerrors.NewTransportError(tlerrors.CodeBatchRejected, "failed to encode batch", err)
	}

	if t.compress {
		payload = snappy.Encode(nil, payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/events/batch", bytes.NewReader(payload))
	if err != nil {
		return tlerrors.NewTransportError(tlerrors.CodeBatchRejected, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.compress {
		req.Header.Set("Content-Encoding", "snappy")
	}
	if batch.ID != "" {
		req.Header.Set("X-Batch-ID", batch.ID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tlerrors.NewTransportError(tlerrors.CodeSendFailed, "batch send failed", err)
	}
	defer resp.Body.Close()
	// Drain so the connection returns to the pool.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return tlerrors.NewTransportError(tlerrors.CodeBatchRejected,
			fmt.Sprintf("backend rejected batch with status %d", resp.StatusCode), nil)
	default:
		return tlerrors.NewTransportError(tlerrors.CodeEndpointStatus,
			fmt.Sprintf("backend returned status %d", resp.StatusCode), nil)
	}
}

// FileTransport appends batches to an append-only local spool file, for
// disconnected or development operation. The write is fsynced before Send
// returns, trading throughput for single-node durability.
type FileTransport struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileTransport opens (or creates) the spool file in append mode.
func NewFileTransport(path string) (*FileTransport, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, tlerrors.NewTransportError(tlerrors.CodeSpoolFailed, "failed to open spool file", err)
	}
	return &FileTransport{file: f}, nil
}

// Send appends each record as one JSON line and fsyncs the file.
func (t *FileTransport) Send(ctx context.Context, batch *types.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch.Records {
		if err := enc.Encode(&batch.Records[i]); err != nil {
			return tlerrors.NewTransportError(tlerrors.CodeBatchRejected, "failed to encode record", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.file.Write(buf.Bytes()); err != nil {
		return tlerrors.NewTransportError(tlerrors.CodeSpoolFailed, "failed to append to spool", err)
	}
	if err := t.file.Sync(); err != nil {
		return tlerrors.NewTransportError(tlerrors.CodeSpoolFailed, "failed to fsync spool", err)
	}
	return nil
}

// Close closes the spool file.
func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
