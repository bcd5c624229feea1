// Package app wires the orchestrator's components and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/agentlegible/orchestrator/internal/api/http"
	"github.com/agentlegible/orchestrator/internal/bus"
	"github.com/agentlegible/orchestrator/internal/config"
	"github.com/agentlegible/orchestrator/internal/lifecycle"
	"github.com/agentlegible/orchestrator/internal/observability"
	"github.com/agentlegible/orchestrator/internal/policy"
	"github.com/agentlegible/orchestrator/internal/publish"
	"github.com/agentlegible/orchestrator/internal/registry"
	"github.com/agentlegible/orchestrator/internal/schemacheck"
	"github.com/agentlegible/orchestrator/internal/server"
	"github.com/agentlegible/orchestrator/internal/storage"
	"github.com/agentlegible/orchestrator/internal/store"
)

// App manages the orchestrator service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	store    *store.Store
	storage  storage.ObjectStorage
	notifier *bus.Notifier
	stats    *observability.OpStats
	shutdown *server.ShutdownManager

	// Components
	manifests  *registry.ManifestRegistry
	schemas    *registry.SchemaRegistry
	engine     *lifecycle.Engine
	exporter   *publish.Exporter
	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Engine exposes the lifecycle engine, for embedding and tests.
func (a *App) Engine() *lifecycle.Engine {
	return a.engine
}

// Start initializes shared resources and starts the HTTP server and the
// publish exporter.
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

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	a.startStatsPruner(ctx)
	a.exporter.Start()
	log.Printf("Publish exporter started")

	if err := a.startHTTPServer(); err != nil {
		a.cleanup()
		return err
	}

	log.Printf("Orchestrator started")
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	// Export storage
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Export storage initialized: type=%s", a.cfg.Storage.Type)

	// Catalog database
	a.store, err = store.Open(a.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	log.Printf("Catalog opened: %s", a.cfg.DatabasePath())

	a.notifier = bus.NewNotifier(a.cfg.Bus.BufferSize)
	a.stats = observability.NewOpStats(a.cfg.Stats.Window)
	a.manifests = registry.NewManifestRegistry(a.store)
	a.schemas = registry.NewSchemaRegistry(a.store)

	a.engine = lifecycle.New(lifecycle.Config{
		Store:     a.store,
		Manifests: a.manifests,
		Schemas:   a.schemas,
		Validator: schemacheck.NewValidator(),
		Policy:    policy.NewEngine(policy.DefaultGates()...),
		Sink:      a.notifier,
		Stats:     a.stats,
	})

	a.exporter = publish.NewExporter(a.notifier, a.storage, nil)

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	// LIFO: stop the exporter after the HTTP server (registered later)
	// stops producing, close the store last.
	a.shutdown.RegisterCloser(server.CloserFunc(a.store.Close))
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.exporter.Stop()
		return nil
	}))

	return nil
}

func (a *App) startStatsPruner(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.Stats.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.stats.Prune()
			}
		}
	}()
}

func (a *App) startHTTPServer() error {
	// NewMux carries the standard middleware; only shutdown rejection is
	// layered here so 503s fire before any handler work.
	apiMux := httpapi.NewMux(a.engine, a.manifests, a.schemas, a.stats,
		func() bool { return !a.shutdown.IsShuttingDown() })
	mux := http.NewServeMux()
	mux.Handle("/", server.ShutdownMiddleware(a.shutdown)(apiMux))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	graceful := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := graceful.ListenAndServe(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
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

	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("Orchestrator stopped")
	return err
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.exporter != nil {
		a.exporter.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// WaitForShutdown blocks until a shutdown signal is received, then runs the
// shutdown sequence.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
