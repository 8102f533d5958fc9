// Package storage provides the pluggable persistence backends for ingested
// events: an append-only newline-delimited file for low-volume or local
// development, and a partitioned Postgres store with a bulk-load write path
// for production.
package storage

import (
	"context"

	"github.com/traceline/traceline/pkg/types"
)

// EventStore is the persistence contract used by the ingestion service.
// Implementations are selected once at construction time via configuration.
type EventStore interface {
	// BulkWrite persists all records in one storage operation per
	// destination. Records within a batch keep their order.
	BulkWrite(ctx context.Context, records []types.EventRecord) error

	// Ping reports backend reachability for the health check.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
