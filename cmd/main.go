package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/fieldpresence/internal/adapters/http/api"
	"github.com/okian/fieldpresence/internal/adapters/http/client"
	"github.com/okian/fieldpresence/internal/adapters/http/swagger"
	service "github.com/okian/fieldpresence/internal/app"
	"github.com/okian/fieldpresence/internal/config"
	"github.com/okian/fieldpresence/internal/domain/estimator"
	"github.com/okian/fieldpresence/internal/positioning"
	"github.com/okian/fieldpresence/pkg/logger"
	"github.com/okian/fieldpresence/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// application holds the wired process components.
type application struct {
	engine *service.Engine
	server *http.Server
}

func main() {
	os.Exit(serve())
}

// serve runs the process and returns its exit code.
func serve() int {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't configured yet.
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.InitWith(os.Stdout, cfg.LogFormat); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.StartSystemCollector(ctx)

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build application", logger.Error(err))
		return 1
	}
	if err := app.run(ctx, cfg.ShutdownTimeout); err != nil {
		log.Error(ctx, "application stopped with error", logger.Error(err))
		return 1
	}
	return 0
}

// newApplication wires the backend client, the positioning source, the
// engine and the HTTP routes from cfg.
func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	window, err := cfg.AttendanceWindow()
	if err != nil {
		return nil, err
	}

	backend, err := client.New(cfg.BackendURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithUserID(cfg.UserID),
		client.WithLogger(log.Named("backend")),
	)
	if err != nil {
		return nil, err
	}

	source := positioning.NewPushSource()
	e := cfg.Engine
	engine := service.New(backend, cfg.Branches, window,
		service.WithLogger(log.Named("engine")),
		service.WithUserID(cfg.UserID),
		service.WithRecordedToday(cfg.RecordedToday),
		service.WithPredictionInterval(e.PredictionInterval()),
		service.WithExposeInterval(e.ExposeInterval()),
		service.WithPollInterval(e.PollInterval),
		service.WithFlushInterval(e.BatchInterval()),
		service.WithHeartbeatInterval(e.HeartbeatInterval),
		service.WithDebounce(e.Debounce),
		service.WithRetryCooldown(e.RetryCooldown),
		service.WithAWOLCooldown(e.AWOLCooldown),
		service.WithAlertDisplay(e.AlertDisplay),
		service.WithBufferCapacity(e.BufferCapacity),
		service.WithQueueSize(cfg.QueueSize),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithJobTimeout(cfg.RequestTimeout),
		service.WithShutdownTimeout(cfg.ShutdownTimeout),
		service.WithEstimatorOptions(
			estimator.WithCorrectionWeight(e.GPSCorrectionWeight),
			estimator.WithNoiseThreshold(e.NoiseThreshold),
			estimator.WithDriftThreshold(e.DriftThreshold),
		),
		service.WithPositioning(source, e.AcquisitionTimeout),
	)

	mux := http.NewServeMux()
	api.NewServer(engine, source).Register(ctx, mux)
	swagger.Register(ctx, mux)

	return &application{
		engine: engine,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// run starts the engine and serves HTTP until ctx is cancelled, then
// drains the server before stopping the engine.
func (a *application) run(ctx context.Context, shutdownTimeout time.Duration) error {
	log := logger.Get()

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	// Final telemetry flush happens inside Stop.
	a.engine.Stop()
	log.Info(ctx, "server stopped")
	return serveErr
}
