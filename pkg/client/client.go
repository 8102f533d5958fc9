// Package client provides the producer-facing telemetry client: a bounded
// in-process buffer, a background flush loop, and pluggable batch transports.
//
// Emit never blocks beyond a short buffer append and never surfaces delivery
// errors to the caller; under sustained overload the client sheds data and
// counts it rather than stalling or crashing the producing agent.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	tlerrors "github.com/traceline/traceline/internal/errors"
	"github.com/traceline/traceline/pkg/types"
)

// Config holds client buffering and delivery settings. Zero values fall back
// to the defaults below.
type Config struct {
	// Endpoint is the ingestion service base URL. When empty the client
	// spools to SpoolPath instead of sending over the network.
	Endpoint string

	// SpoolPath is the durable local file used when Endpoint is empty.
	SpoolPath string

	// FlushBatchSize triggers a flush when the buffer reaches this count.
	FlushBatchSize int

	// FlushInterval triggers a flush on a timer regardless of batch size.
	FlushInterval time.Duration

	// BufferCapacity is the hard ceiling; beyond it the oldest records are
	// dropped and counted.
	BufferCapacity int

	// RetryMaxAttempts caps delivery attempts per batch. Once exceeded the
	// batch is dropped and counted.
	RetryMaxAttempts int

	// RetryBaseDelay is the initial backoff delay; it doubles per attempt
	// up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// CloseTimeout bounds the best-effort final flush on Close.
	CloseTimeout time.Duration

	// HTTPTimeout is the per-request timeout of the network transport.
	HTTPTimeout time.Duration

	// Compress enables snappy encoding on the network transport.
	Compress bool

	// Transport overrides the transport selection; used by embedders that
	// bring their own delivery mechanism and by tests.
	Transport Transport
}

func (c Config) withDefaults() Config {
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.BufferCapacity < c.FlushBatchSize {
		c.BufferCapacity = c.FlushBatchSize * 100
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 2 * time.Second
	}
	if c.SpoolPath == "" {
		c.SpoolPath = "traceline-spool.ndjson"
	}
	return c
}

// Client is the producer-facing API. Each producer owns exactly one Client;
// the Client owns its Buffer, Transport, and background flush goroutine.
type Client struct {
	cfg       Config
	buf       *Buffer
	transport Transport
	stats     Stats

	flushCh   chan struct{}
	stop      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a client and starts its flush loop. The transport is selected
// at construction time: an explicit Config.Transport, the network transport
// when Endpoint is set, the durable-file transport otherwise.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	transport := cfg.Transport
	if transport == nil {
		if cfg.Endpoint != "" {
			transport = NewHTTPTransport(cfg.Endpoint, cfg.HTTPTimeout, cfg.Compress)
		} else {
			ft, err := NewFileTransport(cfg.SpoolPath)
			if err != nil {
				return nil, err
			}
			transport = ft
		}
	}

	c := &Client{
		cfg:       cfg,
		buf:       NewBuffer(cfg.BufferCapacity),
		transport: transport,
		flushCh:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)

	return c, nil
}

// Emit buffers one record for asynchronous delivery. It never blocks beyond
// the buffer append and never returns an error: transport and backend
// failures are observable only through Stats, not through the producer's
// control flow. A zero Timestamp is assigned at buffering time.
func (c *Client) Emit(rec types.EventRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	// The buffer keeps the overflow count; Stats folds it in.
	n, _ := c.buf.Append(rec)
	c.stats.emitted.Add(1)

	if n >= c.cfg.FlushBatchSize {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Stats returns a snapshot of the client's delivery counters.
func (c *Client) Stats() StatsSnapshot {
	snap := c.stats.Snapshot()
	snap.DroppedOverflow = c.buf.Dropped()
	return snap
}

// Close stops the flush loop after one best-effort final flush bounded by
// CloseTimeout. Buffered events that cannot be delivered within the deadline
// are lost by design rather than blocking shutdown.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

// run is the background flush loop. It is the only place the client blocks;
// suspension never happens on the producer's Emit path.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.cancel()
			finalCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
			c.flush(finalCtx, true)
			cancel()
			if ft, ok := c.transport.(*FileTransport); ok {
				ft.Close()
			}
			return
		case <-c.flushCh:
			c.flush(ctx, false)
		case <-ticker.C:
			c.flush(ctx, false)
		}
	}
}

// flush swaps the buffer out and delivers the batch, retrying with
// exponential backoff up to the attempt cap. Exhausted batches are dropped
// and counted; nothing propagates back to the producer.
func (c *Client) flush(ctx context.Context, final bool) {
	records := c.buf.Swap()
	if len(records) == 0 {
		return
	}

	batch := &types.Batch{
		ID:      uuid.NewString(),
		Records: records,
	}

	delay := c.cfg.RetryBaseDelay
	for batch.Attempts < c.cfg.RetryMaxAttempts {
		batch.Attempts++

		err := c.transport.Send(ctx, batch)
		if err == nil {
			c.stats.sent.Add(uint64(len(records)))
			c.stats.flushes.Add(1)
			return
		}

		if !tlerrors.IsRetryable(err) || final {
			break
		}
		if batch.Attempts >= c.cfg.RetryMaxAttempts {
			break
		}
		c.stats.retries.Add(1)

		select {
		case <-ctx.Done():
			c.stats.droppedRetries.Add(uint64(len(records)))
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
	}

	c.stats.droppedRetries.Add(uint64(len(records)))
}
