// Package app provides the unified application lifecycle management for the
// Traceline ingestion service.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	httpapi "github.com/traceline/traceline/internal/api/http"
	"github.com/traceline/traceline/internal/archive"
	"github.com/traceline/traceline/internal/config"
	"github.com/traceline/traceline/internal/ingest"
	"github.com/traceline/traceline/internal/metrics"
	"github.com/traceline/traceline/internal/partition"
	"github.com/traceline/traceline/internal/server"
	"github.com/traceline/traceline/internal/storage"
)

// App manages the ingestion service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	sink       *metrics.Sink
	store      storage.EventStore
	pool       *pgxpool.Pool
	partitions *partition.Manager
	archive    archive.ObjectStorage
	service    *ingest.Service
	shutdown   *server.ShutdownManager

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:  cfg,
		sink: metrics.NewSink(),
	}, nil
}

// Start initializes shared resources and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initStorage(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.initArchive(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize archive: %w", err)
	}

	a.service = ingest.NewService(a.store, a.sink, a.cfg.Ingest)
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.RegisterCloser(server.CloserFunc(a.closeStore))

	a.startHTTPServer()

	log.Printf("Traceline started, storage mode %s", a.cfg.EffectiveStorageMode())
	return nil
}

// initStorage selects the storage backend from the effective mode.
func (a *App) initStorage(ctx context.Context) error {
	switch mode := a.cfg.EffectiveStorageMode(); mode {
	case config.StorageModeFile:
		store, err := storage.NewFileStore(a.cfg.Storage.FilePath)
		if err != nil {
			return err
		}
		a.store = store
		log.Printf("Storage initialized: mode=file path=%s", a.cfg.Storage.FilePath)

	case config.StorageModeBulk:
		pool, err := storage.OpenPool(ctx, a.cfg.Storage.DatabaseURL,
			a.cfg.Storage.PoolMinConns, a.cfg.Storage.PoolMaxConns)
		if err != nil {
			return err
		}
		a.pool = pool
		a.partitions = partition.NewManager(pool, a.sink)
		a.store = storage.NewPostgresStore(pool, a.partitions, a.sink)
		log.Printf("Storage initialized: mode=bulk-store pool=%d..%d",
			a.cfg.Storage.PoolMinConns, a.cfg.Storage.PoolMaxConns)

	default:
		return fmt.Errorf("unsupported storage mode: %s", mode)
	}
	return nil
}

// initArchive builds the object storage destination for retired partitions.
func (a *App) initArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Archive.Type {
	case "local":
		a.archive, err = archive.NewLocalStorage(a.cfg.Archive.Path)
	case "s3":
		a.archive, err = archive.NewS3Storage(ctx, a.cfg.Archive.S3.Bucket, archive.S3Config{
			Region:   a.cfg.Archive.S3.Region,
			Endpoint: a.cfg.Archive.S3.Endpoint,
		})
	default:
		return fmt.Errorf("unsupported archive type: %s", a.cfg.Archive.Type)
	}
	if err != nil {
		return err
	}
	log.Printf("Archive initialized: type=%s", a.cfg.Archive.Type)
	return nil
}

// startHTTPServer wires the routes and starts serving.
func (a *App) startHTTPServer() {
	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)

	mux.Handle("/events", middleware(httpapi.NewEventsHandler(a.service)))
	mux.Handle("/events/batch", middleware(httpapi.NewBatchHandler(a.service)))
	mux.Handle("/health", httpapi.NewHealthHandler(a.service, a.sink, a.cfg.EffectiveStorageMode()))
	mux.Handle("/metrics", a.sink.Handler())

	// Partition administration only exists against the bulk store; the file
	// backend has nothing to retire.
	if a.partitions != nil {
		retire := httpapi.NewRetireHandler(a.partitions, a.archive, a.cfg.RetentionCutoff)
		mux.Handle("/admin/partitions/retire", middleware(retire))
	}

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("Ingestion HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
}

// Stop gracefully stops the service and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All goroutines finished
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()

	log.Printf("Traceline stopped")
	return nil
}

// closeStore closes the storage backend exactly once. Both the shutdown
// manager's closer chain and Stop funnel through here; closing the store also
// closes the pool in bulk-store mode.
func (a *App) closeStore() error {
	a.mu.Lock()
	store := a.store
	a.store = nil
	a.pool = nil
	a.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Close()
}

// cleanup releases shared resources.
func (a *App) cleanup() {
	if err := a.closeStore(); err != nil {
		log.Printf("Storage close error: %v", err)
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
