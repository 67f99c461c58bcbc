// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/tessera/internal/adapters/catalog"
	"github.com/jobrunner/tessera/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/tessera/internal/adapters/http"
	"github.com/jobrunner/tessera/internal/adapters/metrics"
	"github.com/jobrunner/tessera/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/tessera/internal/adapters/tls"
	"github.com/jobrunner/tessera/internal/adapters/watcher"
	"github.com/jobrunner/tessera/internal/application"
	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/config"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
	"github.com/jobrunner/tessera/internal/raster"
	"github.com/jobrunner/tessera/internal/render"
)

// App holds all application components.
type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Storage        output.ObjectStorage
	Catalog        *catalog.Catalog
	Repository     *geopackage.Repository
	Render         *render.Context
	Pool           *bitmap.Pool
	Memo           *bitmap.Memo
	Layer          *raster.DatasetLayer
	Registry       *application.ArchiveRegistry
	SyncService    *application.SyncService
	DatasetService *application.DatasetService
	ViewService    *application.ViewService
	CaptureService *application.CaptureService
	HealthService  *application.HealthService
	HTTPServer     *httpAdapter.Server
	TLSServer      *tlsAdapter.Server
	Watcher        *watcher.Watcher
	Metrics        *metrics.Collector
	MetricsServer  *metrics.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	var middleware []mux.MiddlewareFunc
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		app.Metrics = metrics.NewCollector("tessera", registry)
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Address(cfg.Server.Host),
			cfg.Metrics.Path,
			registry,
			logger,
		)
		metricsCollector = app.Metrics
		middleware = append(middleware, app.Metrics.Middleware)
	}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.NewInstrumented(store, metricsCollector)

	app.Catalog, err = catalog.Open(ctx, cfg.Catalog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	provider := projection.NewProvider(logger)
	app.Repository = geopackage.NewRepository(provider, logger)
	factories := output.TileSourceFactories{geopackage.ProviderTag: app.Repository}

	app.Render = render.NewContext(logger)
	app.Pool = bitmap.NewPool(cfg.Imagery.DecodeWorkers)
	app.Memo, err = bitmap.NewMemo(cfg.Imagery.TileCacheSize, app.Pool, metricsCollector, logger)
	if err != nil {
		_ = app.Catalog.Close()
		return nil, fmt.Errorf("initializing tile cache: %w", err)
	}

	app.Layer = raster.NewDatasetLayer(
		raster.Config{
			Name:           "imagery",
			SelectionLimit: cfg.Imagery.SelectionLimit,
			LatBucketSize:  cfg.Imagery.LatBucket,
		},
		raster.Deps{
			Store:    app.Catalog,
			Factory:  factories,
			Provider: provider,
			Memo:     app.Memo,
			Render:   app.Render,
			Metrics:  metricsCollector,
			Logger:   logger,
		},
	)
	app.Layer.SetOffline(false, cfg.Imagery.RefreshAfter)

	app.Registry = application.NewArchiveRegistry(
		app.Repository,
		app.Catalog,
		app.Storage,
		app.Memo,
		metricsCollector,
		logger,
		cfg.Storage.LocalPath,
	)
	app.SyncService = application.NewSyncService(app.Registry, cfg.Sync.Interval, logger)
	app.HealthService = application.NewHealthService(app.Registry, app.Catalog, app.Layer)
	app.ViewService = application.NewViewService(app.Layer, app.Catalog, logger)
	app.DatasetService = application.NewDatasetService(
		app.Catalog,
		app.Layer,
		factories,
		app.Memo,
		cfg.Imagery.LatBucket,
		logger,
	)
	app.CaptureService = application.NewCaptureService(
		app.Catalog,
		factories,
		provider,
		app.Pool,
		application.CaptureConfig{
			RelativeScaleBias: cfg.Imagery.RelativeScale,
			Timeout:           cfg.Server.CaptureTimeout,
			MaxPixels:         cfg.Imagery.MaxCapturePixels,
		},
		metricsCollector,
		logger,
	)

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		httpAdapter.Services{
			Archives: app.Registry,
			Datasets: app.DatasetService,
			View:     app.ViewService,
			Capture:  app.CaptureService,
			Sync:     app.SyncService,
			Health:   app.HealthService,
		},
		logger,
		middleware...,
	)

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			},
			app.HTTPServer.Handler(),
			logger,
		)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// local archives are reloaded on change
	if cfg.Storage.Type == "local" && cfg.Sync.Watch {
		w, err := watcher.New(
			watcher.Config{
				Paths: []string{cfg.Storage.LocalPath},
				Match: storage.IsArchive,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start loads the archives, starts the background components and serves
// HTTP until Shutdown.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Render.Run(ctx)
	}()

	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to load archives", "error", err)
	}

	a.Layer.Start(ctx)
	a.SyncService.Start(ctx)

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.SyncService.Stop()

	var errs []error
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TLS server: %w", err))
		}
	}
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server: %w", err))
	}

	a.Layer.Stop()
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()
	// run the releases queued by Stop
	a.Render.Drain(ctx)

	a.Close()
	return errors.Join(errs...)
}

// Close releases the stores. Archives stay cataloged for the next start.
func (a *App) Close() {
	a.DatasetService.Close()
	a.Memo.Close()
	if err := a.Repository.Close(); err != nil {
		a.Logger.Error("failed to close archive connections", "error", err)
	}
	if err := a.Catalog.Close(); err != nil {
		a.Logger.Error("failed to close catalog", "error", err)
	}
}

// handleFileEvent keeps the catalog in step with the local archive directory.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("archive changed", "path", event.Path, "operation", event.Operation.String())

	if event.Operation == watcher.OpDelete {
		if err := a.Registry.UnloadPath(ctx, event.Path); err != nil {
			a.Logger.Warn("failed to unload deleted archive", "path", event.Path, "error", err)
		}
		return nil
	}
	return a.Registry.LoadArchive(ctx, event.Path)
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
