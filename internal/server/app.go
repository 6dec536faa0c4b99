// Package server builds the application's dependencies and runs the refresh
// loop alongside the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/api"
	"github.com/JakeFAU/satview/internal/clock/system"
	"github.com/JakeFAU/satview/internal/config"
	"github.com/JakeFAU/satview/internal/fetcher/gibs"
	"github.com/JakeFAU/satview/internal/hash/sha256"
	"github.com/JakeFAU/satview/internal/id/uuid"
	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/logging"
	"github.com/JakeFAU/satview/internal/metrics"
	memorypublisher "github.com/JakeFAU/satview/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/satview/internal/publisher/pubsub"
	"github.com/JakeFAU/satview/internal/refresher"
	"github.com/JakeFAU/satview/internal/storage"
	gcsstorage "github.com/JakeFAU/satview/internal/storage/gcs"
	localstorage "github.com/JakeFAU/satview/internal/storage/local"
	memorystorage "github.com/JakeFAU/satview/internal/storage/memory"
	pgstore "github.com/JakeFAU/satview/internal/storage/postgres"
	"github.com/JakeFAU/satview/internal/store"
	"github.com/JakeFAU/satview/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	images       *store.ImageStore
	fetcher      imagery.Fetcher
	refresher    *refresher.Refresher
	apiServer    *api.Server
	pubsub       *gcppublisher.Publisher
	storage      *gcstorage.Client
	pgFetchLog   *pgstore.FetchLog
	tracer       *sdktrace.TracerProvider
	ownsLogger   bool
	shutdownWait time.Duration
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := BuildWithLogger(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	app.ownsLogger = true

	app.tracer, err = telemetry.InitTracerProvider(ctx, "satview")
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	return app, nil
}

// BuildWithLogger is Build with a caller-supplied logger. A nil fetcher
// builds the GIBS fetcher from cfg.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger, fetcher imagery.Fetcher) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:          cfg,
		logger:       logger,
		images:       store.NewImageStore(),
		shutdownWait: cfg.Server.ShutdownTimeout,
	}
	if app.shutdownWait <= 0 {
		app.shutdownWait = 10 * time.Second
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("layer", cfg.Imagery.Layer),
		zap.String("bbox", cfg.Imagery.BBox.String()),
		zap.Duration("interval", cfg.Refresh.Interval),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	fetchLog, err := setupFetchLog(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	if fetcher == nil {
		fetcher = gibs.New(gibs.Config{
			WMS:          cfg.WMS(),
			UserAgent:    cfg.Imagery.UserAgent,
			Timeout:      cfg.Imagery.Timeout,
			MaxBodyBytes: cfg.Imagery.MaxBodyBytes,
		}, clock, logger.Named("fetcher"))
	}
	app.fetcher = fetcher

	app.refresher = refresher.New(
		fetcher,
		app.images,
		blobStore,
		publisher,
		fetchLog,
		sha256.New(),
		clock,
		uuid.NewUUIDGenerator(),
		refresher.Config{
			Interval:          cfg.Refresh.Interval,
			SideEffectTimeout: cfg.Refresh.SideEffectTimeout,
			ObjectName:        cfg.Storage.ObjectName,
			Topic:             cfg.PubSub.TopicName,
			Layer:             cfg.Imagery.Layer,
			BBox:              cfg.Imagery.BBox,
		},
		logger.Named("refresher"),
	)

	if cfg.Storage.LoadOnStart {
		if err := app.refresher.Seed(ctx); err != nil {
			app.logger.Warn("seed from persisted image failed", zap.Error(err))
		}
	}

	app.apiServer = api.NewServer(app.images, app.refresher, fetchLog, *cfg, logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the refresh loop and HTTP server and blocks until the context is
// canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the application on an existing listener until ctx is done.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		a.refresher.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownWait)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-refreshDone

	closeErr := a.Close()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases clients and flushes the logger.
func (a *App) Close() error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		// Sync on stderr returns EINVAL on some platforms.
		_ = a.logger.Sync()
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgFetchLog != nil {
		a.pgFetchLog.Close()
		a.pgFetchLog = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}

func setupStorage(ctx context.Context, app *App) (imagery.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case storage.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCS.Bucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       app.cfg.Storage.GCS.Bucket,
			CacheControl: app.cfg.Storage.GCS.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case storage.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case storage.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("image persistence disabled")
		return nil, nil
	}
}

func setupFetchLog(ctx context.Context, app *App) (imagery.FetchLog, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Info("no database DSN configured, keeping fetch history in memory",
			zap.Int("history_size", app.cfg.Database.HistorySize))
		return memorystorage.NewFetchLog(app.cfg.Database.HistorySize), nil
	}
	fetchLog, err := pgstore.NewFetchLog(ctx, pgstore.FetchLogConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch log init failed: %w", err)
	}
	app.pgFetchLog = fetchLog
	if app.cfg.Database.Migrate {
		if err := fetchLog.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("fetch log schema: %w", err)
		}
	}
	app.logger.Info("postgres fetch log initialized", zap.String("table", app.cfg.Database.Table))
	return fetchLog, nil
}

func setupPublisher(ctx context.Context, app *App) (imagery.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(100), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsub = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsub, nil
}
