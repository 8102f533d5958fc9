package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/internal/partition"
	"github.com/traceline/traceline/pkg/types"
)

// bulkColumns is the column order used for bulk loads, matching the partition
// table DDL.
var bulkColumns = []string{
	"event_type", "session_id", "workflow_id", "tool_use_id", "provider", "occurred_at", "data",
}

// PostgresStore persists events into monthly partition tables using the bulk
// copy protocol. One BulkWrite issues at most one copy per partition touched
// by the batch.
type PostgresStore struct {
	pool       *pgxpool.Pool
	partitions *partition.Manager
	sink       *metrics.Sink
}

// OpenPool connects a bounded connection pool to the given database URL and
// verifies connectivity before returning.
func OpenPool(ctx context.Context, databaseURL string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConns = maxConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, tlerrors.NewStorageError(tlerrors.CodeUnreachable, "database unreachable", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store over an established pool.
func NewPostgresStore(pool *pgxpool.Pool, partitions *partition.Manager, sink *metrics.Sink) *PostgresStore {
	return &PostgresStore{pool: pool, partitions: partitions, sink: sink}
}

// BulkWrite loads records into their partition tables. Records are grouped by
// partition first so a batch spanning a month boundary still needs only one
// copy per table.
func (s *PostgresStore) BulkWrite(ctx context.Context, records []types.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	done := s.sink.TrackBulkWrite()
	defer done()

	groups := make(map[string][]types.EventRecord)
	for _, rec := range records {
		table := partition.ForTime(rec.Timestamp).Table
		groups[table] = append(groups[table], rec)
	}

	for _, group := range groups {
		p, err := s.partitions.Resolve(ctx, group[0].Timestamp)
		if err != nil {
			return err
		}
		if err := s.copyInto(ctx, p, group); err != nil {
			return err
		}
	}

	s.sink.IncBulkWrite()
	return nil
}

func (s *PostgresStore) copyInto(ctx context.Context, p partition.Partition, records []types.EventRecord) error {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return tlerrors.NewStorageError(tlerrors.CodeBulkWriteFailed,
				"failed to encode event payload", err)
		}
		rows = append(rows, []interface{}{
			rec.EventType,
			rec.SessionID,
			nullable(rec.WorkflowID),
			nullable(rec.ToolUseID),
			nullable(rec.Provider),
			rec.Timestamp.UTC(),
			data,
		})
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{p.Table}, bulkColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return tlerrors.NewStorageError(tlerrors.CodeBulkWriteFailed,
			fmt.Sprintf("bulk load into %s failed", p.Table), err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return tlerrors.NewStorageError(tlerrors.CodeUnreachable, "database unreachable", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// nullable maps an empty optional field to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
