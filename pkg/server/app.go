package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradeLoop/internal/usecase"
	"TradeLoop/pkg/config"
	"TradeLoop/pkg/cron"
	xhttp "TradeLoop/pkg/http"
	pkgkafka "TradeLoop/pkg/kafka"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/queue"
)

// Start-up failure classes returned by RunContext.
var (
	ErrStoreStart = errors.New("store start")
	ErrListen     = errors.New("http listen")
)

// Closer releases an infrastructure client on shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	httpServer *xhttp.Server
	jobs       *cron.Runner
	collector  *usecase.BrokerEventCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	calQueue   *queue.RedisQueue
	recorder   *usecase.FeedbackRecorder
	closers    []Closer
}

// Option attaches optional components.
type Option func(*App)

// WithCollector streams position_closed events from the broker bridge.
func WithCollector(c *usecase.BrokerEventCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithConsumer consumes position_closed events from Kafka.
func WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) { a.consumer, a.kh = c, h }
}

// WithQueue runs the asynchronous calibration queue.
func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.calQueue = q }
}

// WithClosers registers clients closed last, in order.
func WithClosers(cs ...Closer) Option {
	return func(a *App) { a.closers = append(a.closers, cs...) }
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	httpServer *xhttp.Server,
	jobs *cron.Runner,
	recorder *usecase.FeedbackRecorder,
	opts ...Option,
) *App {
	a := &App{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		jobs:       jobs,
		recorder:   recorder,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done or the
// HTTP listener fails.
func (a *App) RunContext(ctx context.Context) error {
	if a.recorder != nil {
		if n, err := a.recorder.ReplaySpill(ctx); err != nil {
			// Records the healthy journal refused stay spilled for the cron replay.
			if herr := a.recorder.Health(ctx); herr != nil {
				return fmt.Errorf("%w: journal: %w", ErrStoreStart, herr)
			}
			a.logger.Warn("startup spill replay incomplete", applogger.Int("replayed", n), applogger.Error(err))
		}
	}

	if a.calQueue != nil {
		if err := a.calQueue.Start(); err != nil {
			return fmt.Errorf("%w: calibration queue: %w", ErrStoreStart, err)
		}
		a.logger.Info("calibration queue started")
	}

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			// The collector keeps reconnecting on its own.
			a.logger.Warn("broker stream not connected yet", applogger.Error(err))
		} else {
			a.logger.Info("broker event stream started")
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.logger.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	a.jobs.Start()
	a.logger.Info("scheduled jobs started", applogger.Int("jobs", a.jobs.Len()))

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-a.httpServer.Errors():
		a.logger.Error("http server failed", applogger.Error(err))
		runErr = fmt.Errorf("%w: %w", ErrListen, err)
	}
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops producers of work first, then the HTTP server, then clients.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.jobs.Stop()

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.logger.Warn("collector stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.calQueue != nil {
		if err := a.calQueue.Stop(ctx); err != nil {
			a.logger.Warn("calibration queue stop error", applogger.Error(err))
		}
	}

	var httpErr error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		httpErr = err
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("client", c.Name), applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	a.logger.RemoveCollector()
	return httpErr
}
