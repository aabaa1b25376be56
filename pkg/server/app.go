package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalCast/internal/broadcast"
	"SignalCast/internal/queue"
	"SignalCast/internal/tokens"
	pkgch "SignalCast/pkg/clickhouse"
	"SignalCast/pkg/config"
	xhttp "SignalCast/pkg/http"
	"SignalCast/pkg/http/middleware"
	pkgkafka "SignalCast/pkg/kafka"
	applogger "SignalCast/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	queue       *queue.Queue
	sweeper     *tokens.Sweeper
	journal     *broadcast.Journal
	chClient    *pkgch.Client
	producer    *pkgkafka.Producer
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies. chClient and
// producer may be nil when the configured journal backend does not need
// them.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	q *queue.Queue,
	sweeper *tokens.Sweeper,
	journal *broadcast.Journal,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
) *App {
	if lgr == nil {
		lgr = applogger.Nop()
	}
	return &App{
		cfg:      cfg,
		logger:   lgr,
		queue:    q,
		sweeper:  sweeper,
		journal:  journal,
		chClient: chClient,
		producer: producer,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithServerTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	}
	if a.cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, xhttp.WithRequestMetrics(middleware.Metrics(a.logger, time.Second)))
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, serverOpts...)

	// Start the durable queue before the API accepts enqueue requests.
	if err := a.queue.Start(); err != nil {
		a.logger.Error("queue start error", applogger.Error(err))
		return err
	}
	a.logger.Info("queue started",
		applogger.Int("concurrency", a.cfg.Queue.Concurrency),
		applogger.Int("max_retries", a.cfg.Queue.MaxRetries))

	// Start the token sweeper if a schedule is configured.
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			a.logger.Error("sweeper start error", applogger.Error(err))
			return err
		}
		a.logger.Info("token sweeper started", applogger.String("schedule", a.cfg.Tokens.SweepSchedule))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	a.logger.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Stop the sweeper first so no refresh run begins mid-shutdown.
	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	// Drain the queue: stop accepting work and wait for in-flight batches.
	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.queue.Stop(stopCtx); err != nil {
		a.logger.Warn("queue stop error", applogger.Error(err))
	}

	// Shutdown HTTP server
	shutdownCtx, cancel2 := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel2()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}

	// Flush the outcome journal after the queue and executor are quiet.
	a.journal.Close()

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.producer != nil {
		a.logger.RemoveCollector()
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
