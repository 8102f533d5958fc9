package partition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traceline/traceline/internal/archive"
	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/pkg/types"
)

// Manager resolves timestamps to partitions, creating partition tables lazily
// on first write, and implements the administrative archive/drop operations.
//
// Creation is safe under concurrency: an in-process double-checked cache
// avoids redundant DDL, and the DDL itself uses IF NOT EXISTS so concurrent
// first-writers across service instances converge on one partition.
type Manager struct {
	pool *pgxpool.Pool
	sink *metrics.Sink

	mu      sync.RWMutex
	created map[string]Partition
}

// NewManager creates a partition manager over the given connection pool.
func NewManager(pool *pgxpool.Pool, sink *metrics.Sink) *Manager {
	return &Manager{
		pool:    pool,
		sink:    sink,
		created: make(map[string]Partition),
	}
}

// Resolve returns the partition owning ts, creating its table if this is the
// first write into that time range.
func (m *Manager) Resolve(ctx context.Context, ts time.Time) (Partition, error) {
	p := ForTime(ts)

	m.mu.RLock()
	if _, ok := m.created[p.Table]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if _, ok := m.created[p.Table]; ok {
		return p, nil
	}

	if err := m.createTable(ctx, p); err != nil {
		return Partition{}, tlerrors.NewPartitionError(tlerrors.CodeCreateFailed,
			fmt.Sprintf("failed to create partition %s", p.Table), err)
	}

	m.created[p.Table] = p
	m.sink.IncPartitionCreated()
	log.Printf("partition: created %s [%s, %s)", p.Table,
		p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	return p, nil
}

// createTable issues the idempotent DDL for one partition. A concurrent
// creator's attempt is a no-op, not an error.
func (m *Manager) createTable(ctx context.Context, p Partition) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			event_type  TEXT        NOT NULL,
			session_id  TEXT        NOT NULL DEFAULT '',
			workflow_id TEXT,
			tool_use_id TEXT,
			provider    TEXT,
			occurred_at TIMESTAMPTZ NOT NULL,
			data        JSONB       NOT NULL DEFAULT '{}'
		)`, p.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_occurred_at ON %s (occurred_at)`, p.Table, p.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id)`, p.Table, p.Table),
	}
	for _, stmt := range stmts {
		if _, err := m.pool.Exec(ctx, stmt); err != nil && !isDuplicateObject(err) {
			return err
		}
	}
	return nil
}

// isDuplicateObject reports whether err means the table or index already
// exists. IF NOT EXISTS does not fully close the race between concurrent
// creators, so losing it is success, not failure.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 42P07 duplicate_table, 23505 unique_violation (pg_type catalog race).
	return pgErr.Code == "42P07" || pgErr.Code == "23505"
}

// List returns all existing partitions, oldest first.
func (m *Manager) List(ctx context.Context) ([]Partition, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE $1`,
		tablePrefix+"%")
	if err != nil {
		return nil, tlerrors.NewPartitionError(tlerrors.CodeRetireFailed, "failed to list partitions", err)
	}
	defer rows.Close()

	var partitions []Partition
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if p, ok := FromTable(name); ok {
			partitions = append(partitions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Start.Before(partitions[j].Start)
	})
	return partitions, nil
}

// Archive dumps every partition that ends at or before cutoff to the archive
// store as snappy-compressed newline-delimited JSON, then drops its table.
// Returns the retired partitions.
func (m *Manager) Archive(ctx context.Context, store archive.ObjectStorage, cutoff time.Time) ([]Partition, error) {
	return m.retire(ctx, cutoff, "archive", func(p Partition) error {
		data, err := m.dump(ctx, p)
		if err != nil {
			return err
		}
		objectPath := fmt.Sprintf("partitions/%s.ndjson.snappy", p.Table)
		if err := store.Put(ctx, objectPath, data); err != nil {
			return tlerrors.NewArchiveError(tlerrors.CodeUploadFailed,
				fmt.Sprintf("failed to archive %s", p.Table), err)
		}
		return nil
	})
}

// Drop removes every partition that ends at or before cutoff without
// archiving it.
func (m *Manager) Drop(ctx context.Context, cutoff time.Time) ([]Partition, error) {
	return m.retire(ctx, cutoff, "drop", nil)
}

// retire applies beforeDrop to each expired partition, then drops its table
// and evicts it from the creation cache. Failures stop the sweep so a failed
// archive never loses data. A partition counts as retired only once its drop
// has succeeded.
func (m *Manager) retire(ctx context.Context, cutoff time.Time, mode string, beforeDrop func(Partition) error) ([]Partition, error) {
	partitions, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var retired []Partition
	for _, p := range partitions {
		if p.End.After(cutoff) {
			continue
		}
		if beforeDrop != nil {
			if err := beforeDrop(p); err != nil {
				return retired, err
			}
		}
		if _, err := m.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.Table)); err != nil {
			return retired, tlerrors.NewPartitionError(tlerrors.CodeRetireFailed,
				fmt.Sprintf("failed to drop partition %s", p.Table), err)
		}

		m.mu.Lock()
		delete(m.created, p.Table)
		m.mu.Unlock()

		m.sink.IncPartitionRetired(mode)
		retired = append(retired, p)
		log.Printf("partition: retired %s", p.Table)
	}
	return retired, nil
}

// dump serializes a partition's rows as snappy-compressed NDJSON.
func (m *Manager) dump(ctx context.Context, p Partition) ([]byte, error) {
	rows, err := m.pool.Query(ctx, fmt.Sprintf(
		`SELECT event_type, session_id, workflow_id, tool_use_id, provider, occurred_at, data
		 FROM %s ORDER BY occurred_at`, p.Table))
	if err != nil {
		return nil, tlerrors.NewPartitionError(tlerrors.CodeRetireFailed,
			fmt.Sprintf("failed to read partition %s", p.Table), err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for rows.Next() {
		var rec types.EventRecord
		var workflowID, toolUseID, provider *string
		var data []byte
		if err := rows.Scan(&rec.EventType, &rec.SessionID, &workflowID, &toolUseID, &provider,
			&rec.Timestamp, &data); err != nil {
			return nil, err
		}
		if workflowID != nil {
			rec.WorkflowID = *workflowID
		}
		if toolUseID != nil {
			rec.ToolUseID = *toolUseID
		}
		if provider != nil {
			rec.Provider = *provider
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Data); err != nil {
				return nil, err
			}
		}
		if err := enc.Encode(&rec); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snappy.Encode(nil, buf.Bytes()), nil
}
