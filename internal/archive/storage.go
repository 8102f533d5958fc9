// Package archive provides object storage for retired partitions. A partition
// past its retention cutoff is dumped as a snappy-compressed newline-delimited
// JSON object and uploaded here before the table is dropped.
package archive

import (
	"context"
	"errors"
)

// Common errors for archive operations.
var (
	ErrObjectNotFound = errors.New("archive object not found")
	ErrUploadFailed   = errors.New("archive upload failed")
	ErrDownloadFailed = errors.New("archive download failed")
)

// ObjectStorage abstracts the archive destination. Implementations include S3
// and the local filesystem for development and testing.
type ObjectStorage interface {
	// Put stores data under objectPath, overwriting any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get retrieves the object stored under objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
