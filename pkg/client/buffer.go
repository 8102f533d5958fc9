package client

import (
	"sync"

	"github.com/traceline/traceline/pkg/types"
)

// Buffer is the in-process, size-bounded event queue owned by one Client.
// Appends are a short mutex-guarded critical section; everything else the
// pipeline does happens off the producer's calling path.
type Buffer struct {
	mu       sync.Mutex
	records  []types.EventRecord
	capacity int
	dropped  uint64
}

// NewBuffer creates a buffer with the given hard capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		records:  make([]types.EventRecord, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record and returns the new length. When the buffer is at
// capacity the oldest record is dropped first: the pipeline sheds load rather
// than growing memory or blocking the producer.
func (b *Buffer) Append(rec types.EventRecord) (n int, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		copy(b.records, b.records[1:])
		b.records[len(b.records)-1] = rec
		b.dropped++
		return len(b.records), true
	}

	b.records = append(b.records, rec)
	return len(b.records), false
}

// Swap atomically hands out the accumulated records and replaces them with an
// empty buffer, so producers keep appending while the batch is delivered.
func (b *Buffer) Swap() []types.EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return nil
	}

	out := b.records
	b.records = make([]types.EventRecord, 0, b.capacity)
	return out
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Dropped returns the cumulative count of records shed at capacity.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
