package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"FinGate/internal/domain/repository"
	"FinGate/internal/usecase"
	"FinGate/pkg/config"
	xhttp "FinGate/pkg/http"
	pkgkafka "FinGate/pkg/kafka"
	applogger "FinGate/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	svc        *usecase.Service
	recorder   *usecase.HistoryRecorder
	history    repository.HistoryStore
	httpServer *xhttp.Server
	bridge     *usecase.KafkaBridge
	consumer   *pkgkafka.Consumer

	httpStarted     bool
	consumerStarted bool
}

type Option func(*App)

// WithHistory attaches the batching recorder and the store it writes to.
func WithHistory(r *usecase.HistoryRecorder, store repository.HistoryStore) Option {
	return func(a *App) {
		a.recorder = r
		a.history = store
	}
}

func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.httpServer = s }
}

// WithKafka attaches the Kafka bridge and the requests consumer. Both may be nil.
func WithKafka(bridge *usecase.KafkaBridge, consumer *pkgkafka.Consumer) Option {
	return func(a *App) {
		a.bridge = bridge
		a.consumer = consumer
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, svc *usecase.Service, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l.With("app"), svc: svc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Service exposes the gateway service to one-shot callers.
func (a *App) Service() *usecase.Service { return a.svc }

// StartCore starts the history recorder and the gateway service without any
// external transport.
func (a *App) StartCore(ctx context.Context) error {
	if a.recorder != nil {
		if err := a.recorder.Start(ctx); err != nil {
			return fmt.Errorf("start history recorder: %w", err)
		}
	}
	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Start brings up the core, the Kafka bridge and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.StartCore(ctx); err != nil {
		return err
	}

	if a.bridge != nil {
		a.bridge.Start()
		a.log.Info("kafka bridge started",
			applogger.String("requests", a.cfg.Kafka.RequestsTopic),
			applogger.String("updates", a.cfg.Kafka.UpdatesTopic))
	}
	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.consumerStarted = true
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
		a.httpStarted = true
	}
	return nil
}

// Run starts the application and blocks until ctx is done or an interrupt
// arrives, then shuts down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.log.Error("startup failed", applogger.Error(err))
		_ = a.Shutdown(context.Background())
		return err
	}
	a.log.Info("gateway running",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Strings("adapters", a.cfg.EnabledAdapters()))

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops intake first (HTTP, Kafka consumer), then drains the
// service, which flushes history, and finally closes outbound resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.httpStarted {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.consumerStarted {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}

	if err := a.svc.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}

	// the log collector publishes through the producer the bridge closes
	a.log.RemoveCollector()
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka bridge: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
