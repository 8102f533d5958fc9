package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"

	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/pkg/types"
)

// FileStore appends events to a newline-delimited JSON file, one record per
// line. Writes are append-only and fsynced per bulk write; existing lines are
// never rewritten.
type FileStore struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileStore opens (or creates) the event file in append mode.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, tlerrors.NewStorageError(tlerrors.CodeUnreachable, "failed to open event file", err)
	}
	return &FileStore{file: f, path: path}, nil
}

// BulkWrite appends all records as JSON lines in a single write, then fsyncs.
func (s *FileStore) BulkWrite(ctx context.Context, records []types.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return tlerrors.NewInternalError("failed to encode record", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return tlerrors.NewStorageError(tlerrors.CodeBulkWriteFailed, "failed to append events", err)
	}
	if err := s.file.Sync(); err != nil {
		return tlerrors.NewStorageError(tlerrors.CodeBulkWriteFailed, "failed to fsync event file", err)
	}
	return nil
}

// Ping verifies the underlying file is still writable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Stat(); err != nil {
		return tlerrors.NewStorageError(tlerrors.CodeUnreachable, "event file unavailable", err)
	}
	return nil
}

// Close fsyncs and closes the event file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// ReadFile reads all records from a newline-delimited event file. Used by
// tooling and tests; the write path never reads back.
func ReadFile(path string) ([]types.EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []types.EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec types.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
