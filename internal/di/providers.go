package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/handler/api"
	mid "TradeLoop/internal/middleware"
	internalrepo "TradeLoop/internal/repository"
	"TradeLoop/internal/repository/modelstore"
	"TradeLoop/internal/service/ratelimit"
	"TradeLoop/internal/services/broker"
	"TradeLoop/internal/services/ml"
	"TradeLoop/internal/usecase"
	"TradeLoop/pkg/cache"
	pkgch "TradeLoop/pkg/clickhouse"
	"TradeLoop/pkg/config"
	"TradeLoop/pkg/cron"
	xhttp "TradeLoop/pkg/http"
	pkgkafka "TradeLoop/pkg/kafka"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/metrics"
	pkgpg "TradeLoop/pkg/postgres"
	"TradeLoop/pkg/queue"
	"TradeLoop/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// Startup failures are classified so the binary can pick its exit code.
var (
	ErrStoreInit  = errors.New("store init")
	ErrBrokerInit = errors.New("broker init")
)

func storeErr(what string, err error) error { return fmt.Errorf("%w: %s: %w", ErrStoreInit, what, err) }

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient creates a ClickHouse client when the journal lives there.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Journal.Backend != config.JournalClickHouse {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(pkgch.Config{
		Host:        ch.Host,
		Port:        ch.Port,
		Database:    ch.Database,
		User:        ch.User,
		Password:    ch.Password,
		HTTP:        ch.UseHTTP,
		AsyncInsert: ch.AsyncInsert,
		WaitAsync:   ch.WaitForAsync,
		DialTimeout: ch.DialTimeout,
		ReadTimeout: ch.ReadTimeout,
		MaxExecTime: ch.MaxExecutionTime,
	})
	if err != nil {
		return nil, storeErr("clickhouse client", err)
	}
	return client, nil
}

// ProvidePostgresPool connects to Postgres when the journal lives there.
func ProvidePostgresPool(cfg *config.Config) (*pkgpg.Pool, error) {
	if cfg.Journal.Backend != config.JournalPostgres {
		return nil, nil
	}
	pool, err := pkgpg.NewPool(context.Background(), cfg.Postgres.DSN,
		pkgpg.WithMaxConns(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		pkgpg.WithConnLifetime(cfg.Postgres.ConnLifetime),
		pkgpg.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, storeErr("postgres pool", err)
	}
	return pool, nil
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, storeErr("redis", err)
	}
	return rc, nil
}

// ProvideCache layers memory over Redis, or keeps everything in memory.
// The memory-only cache must never evict calibration rows.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc, 5000, 5*time.Second)
	}
	return cache.NewMemoryCache(cache.MemoryConfig{SweepInterval: time.Minute})
}

// ProvideJournal opens and initializes the configured journal backend.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client, pg *pkgpg.Pool, l *applogger.Logger) (domrepo.Journal, error) {
	var j domrepo.Journal
	switch cfg.Journal.Backend {
	case config.JournalClickHouse:
		j = internalrepo.NewClickHouseJournal(ch, cfg.ClickHouse.Database, l)
	case config.JournalPostgres:
		j = internalrepo.NewPostgresJournal(pg)
	default:
		j = internalrepo.NewMemoryJournal()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Init(ctx); err != nil {
		return nil, storeErr("journal schema", err)
	}
	return j, nil
}

// ProvideCandleStore keeps candles next to a ClickHouse journal, else in memory.
func ProvideCandleStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) domrepo.CandleStore {
	if ch != nil {
		s := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database)
		s.SetLogger(l)
		return s
	}
	return internalrepo.NewMemoryCandleStore(5000)
}

// ProvideSpillJournal opens the local spill file.
func ProvideSpillJournal(cfg *config.Config) (*internalrepo.SpillJournal, error) {
	s, err := internalrepo.NewSpillJournal(cfg.Journal.SpillDir)
	if err != nil {
		return nil, storeErr("spill journal", err)
	}
	return s, nil
}

// ProvideModelStore opens the model directory and loads every complete slot.
func ProvideModelStore(cfg *config.Config, l *applogger.Logger) (domrepo.ModelStore, error) {
	s, err := modelstore.NewFileStore(cfg.Models.Dir, l)
	if err != nil {
		return nil, storeErr("model store", err)
	}
	n, err := s.LoadFromDisk(context.Background())
	if err != nil {
		return nil, storeErr("model store load", err)
	}
	l.Info("model slots loaded", applogger.Int("slots", n), applogger.String("dir", cfg.Models.Dir))
	return s, nil
}

// ProvideRegistry builds the model family registry.
func ProvideRegistry(cfg *config.Config) *ml.Registry {
	return ml.NewRegistry(cfg.Models.Disabled, cfg.Models.Overrides, 42)
}

// ProvideCalibrationStore persists calibration rows in the cache.
func ProvideCalibrationStore(cfg *config.Config, c cache.Service) domrepo.CalibrationStore {
	return internalrepo.NewCacheCalibrationStore(c, cfg.Calibration.ProcessedTTL)
}

// ProvideCalibrationQueue creates the Redis job queue for calibration updates.
func ProvideCalibrationQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Calibration.AsyncQueue || rc == nil {
		return nil
	}
	q, err := queue.NewRedisQueue(rc.Client(), queue.Config{
		KeyPrefix:  cfg.Redis.Prefix + ":queue:calibration",
		Workers:    cfg.Calibration.QueueWorkers,
		RetryLimit: cfg.Calibration.QueueRetryLimit,
		RetryDelay: cfg.Calibration.QueueRetryDelay,
	}, l.With(applogger.String("component", "calibration_queue")))
	if err != nil {
		l.Warn("calibration queue disabled", applogger.Error(err))
		return nil
	}
	return q
}

// ProvideCalibrator creates the calibration writer and routes it through q when set.
func ProvideCalibrator(cfg *config.Config, store domrepo.CalibrationStore, m domrepo.Metrics, l *applogger.Logger, q *queue.RedisQueue) *usecase.Calibrator {
	c := usecase.NewCalibrator(store, m, l, cfg.Calibration.Eta)
	if q != nil {
		q.RegisterJob(usecase.NewCalibrationJob(c))
		c.SetQueue(q)
	}
	return c
}

// ProvideKafkaProducer creates a Kafka producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  p.MaxAttempts,
		WriteTimeout: p.WriteTimeout,
		ReadTimeout:  p.ReadTimeout,
		BatchSize:    p.BatchSize,
		BatchBytes:   int64(p.BatchBytes),
		Linger:       p.Linger,
		Async:        p.Async,
		KeyHashing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher fans samples and decisions out to Kafka, or drops them.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) domrepo.SamplePublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	if cfg.Log.Topic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.FlushInterval,
			CountThreshold: cfg.Log.FlushCount,
			Topic:          cfg.Log.Topic,
			Publisher:      internalrepo.NewKafkaLogSink(producer),
		})
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.SamplesTopic, cfg.Kafka.DecisionsTopic)
}

// ProvideBrokerGateway creates the broker client and checks it answers.
func ProvideBrokerGateway(cfg *config.Config, l *applogger.Logger) (domrepo.BrokerGateway, error) {
	if !cfg.Broker.Enabled {
		return nil, nil
	}
	gw := broker.NewHTTPGateway(cfg.Broker.BaseURL, cfg.Broker.Timeout,
		broker.WithSymbolInfoTTL(cfg.Broker.SymbolInfoTTL),
		broker.WithLogger(l),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerInit, err)
	}
	return gw, nil
}

// ProvideBrokerStream creates the position_closed event stream.
func ProvideBrokerStream(cfg *config.Config, l *applogger.Logger) domrepo.BrokerStream {
	if !cfg.Broker.Enabled || cfg.Broker.StreamURL == "" {
		return nil
	}
	return broker.NewStream(cfg.Broker.StreamURL, cfg.Broker.Token, cfg.Broker.ReconnectDelay, cfg.Broker.PingInterval, l)
}

func labelEpsilon(cfg *config.Config) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(cfg.Trainer.Epsilon))
	for k, v := range cfg.Trainer.Epsilon {
		out[models.Category(k)] = v
	}
	return out
}

// ProvideFeedbackRecorder creates the decision/outcome recorder.
func ProvideFeedbackRecorder(
	cfg *config.Config,
	journal domrepo.Journal,
	spill *internalrepo.SpillJournal,
	calibrator *usecase.Calibrator,
	publisher domrepo.SamplePublisher,
	candles domrepo.CandleStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.FeedbackRecorder {
	return usecase.NewFeedbackRecorder(journal, spill, calibrator, publisher, candles, m, l, usecase.FeedbackConfig{
		WriteBudget: cfg.Journal.WriteBudget,
		Horizon:     cfg.Trainer.Horizon,
		Epsilon:     labelEpsilon(cfg),
	})
}

// ProvideTrainer creates the periodic trainer.
func ProvideTrainer(
	cfg *config.Config,
	recorder *usecase.FeedbackRecorder,
	candles domrepo.CandleStore,
	store domrepo.ModelStore,
	registry *ml.Registry,
	c cache.Service,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Trainer {
	var slots []models.SlotKey
	for _, s := range cfg.Trainer.Slots {
		if sym, tf, ok := config.SplitSlot(s); ok {
			slots = append(slots, models.SlotKey{Symbol: sym, Timeframe: tf})
		}
	}
	return usecase.NewTrainer(usecase.TrainerConfig{
		Interval:     cfg.Trainer.Interval,
		MinSamples:   cfg.Trainer.MinSamples,
		Slots:        slots,
		Horizon:      cfg.Trainer.Horizon,
		Epsilon:      labelEpsilon(cfg),
		CacheTTL:     cfg.Trainer.CacheTTL,
		FetchTimeout: cfg.Trainer.FetchTimeout,
		SampleLimit:  cfg.Trainer.SampleLimit,
		Workers:      cfg.Trainer.Workers,
	}, recorder, candles, store, registry, c, m, l)
}

// ProvideFusionEngine creates the fusion engine.
func ProvideFusionEngine(cfg *config.Config) *usecase.FusionEngine {
	fc := usecase.DefaultFusionConfig()
	if cfg.Fusion.Gate > 0 {
		fc.Gate = cfg.Fusion.Gate
	}
	if cfg.Fusion.MLBudget > 0 {
		fc.MLBudget = cfg.Fusion.MLBudget
	}
	w := cfg.Fusion.Weights
	if w.ML+w.Technical+w.Trend+w.Context > 0 {
		fc.Weights = usecase.ChannelWeights{ML: w.ML, Technical: w.Technical, Trend: w.Trend, Context: w.Context}
	}
	return usecase.NewFusionEngine(fc)
}

// ProvideDecisionService wires the decision path.
func ProvideDecisionService(
	engine *usecase.FusionEngine,
	store domrepo.ModelStore,
	calibrator *usecase.Calibrator,
	recorder *usecase.FeedbackRecorder,
	gateway domrepo.BrokerGateway,
	candles domrepo.CandleStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.DecisionService {
	return usecase.NewDecisionService(engine, store, calibrator, recorder, gateway, candles, m, l)
}

// ProvideHistoryIngest wires the history upload path.
func ProvideHistoryIngest(candles domrepo.CandleStore, trainer *usecase.Trainer, l *applogger.Logger) *usecase.HistoryIngest {
	return usecase.NewHistoryIngest(candles, trainer, l)
}

// ProvideOrderExecutor creates the executor when a broker is configured.
func ProvideOrderExecutor(cfg *config.Config, gateway domrepo.BrokerGateway, recorder *usecase.FeedbackRecorder, m domrepo.Metrics, l *applogger.Logger) *usecase.OrderExecutor {
	if gateway == nil {
		return nil
	}
	return usecase.NewOrderExecutor(gateway, recorder, m, l, cfg.Broker.AllowStoplessRetry)
}

// ProvideHandler creates the Echo handler.
func ProvideHandler(
	cfg *config.Config,
	l *applogger.Logger,
	decisions *usecase.DecisionService,
	recorder *usecase.FeedbackRecorder,
	history *usecase.HistoryIngest,
	executor *usecase.OrderExecutor,
	calibrator *usecase.Calibrator,
) *api.TradeLoopHandler {
	var orders api.OrderPlacer
	if executor != nil {
		orders = executor
	}
	limiter := ratelimit.New(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.PerSecond)
	return api.NewTradeLoopHandler(l, decisions, recorder, history, orders, calibrator, limiter)
}

// ProvideHTTPServer creates the HTTP server.
func ProvideHTTPServer(cfg *config.Config, h *api.TradeLoopHandler, l *applogger.Logger) (*xhttp.Server, error) {
	return xhttp.NewServer(h, xhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		SlowThreshold:   cfg.Server.SlowThreshold,
		CORS:            cfg.Server.CORS,
	}, l)
}

// ProvideCron schedules training, spill replay and threshold recompute.
func ProvideCron(
	cfg *config.Config,
	l *applogger.Logger,
	trainer *usecase.Trainer,
	recorder *usecase.FeedbackRecorder,
	calibrator *usecase.Calibrator,
) (*cron.Runner, error) {
	r := cron.New(context.Background(), l)

	trainSpec := cfg.Trainer.Schedule
	if trainSpec == "" {
		trainSpec = cron.Every(trainer.Interval())
	}
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"trainer", trainSpec, func(ctx context.Context) {
			n, err := trainer.RunCycle(ctx)
			if err != nil {
				l.Warn("training cycle", applogger.Int("updated", n), applogger.Error(err))
				return
			}
			l.Info("training cycle done", applogger.Int("updated", n))
		}},
		{"spill-replay", cron.Every(cfg.Calibration.SpillReplayEvery), func(ctx context.Context) {
			if _, err := recorder.ReplaySpill(ctx); err != nil {
				l.Warn("spill replay", applogger.Error(err))
			}
		}},
		{"threshold-recompute", cron.Every(cfg.Calibration.ThresholdEvery), func(ctx context.Context) {
			n, err := calibrator.RecomputeThresholds(ctx)
			if err != nil {
				l.Warn("threshold recompute", applogger.Error(err))
				return
			}
			if n > 0 {
				l.Info("drift factors updated", applogger.Int("rows", n))
			}
		}},
	}
	for _, j := range jobs {
		if _, err := r.Add(j.name, j.spec, j.run); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ProvideCollector streams closed positions from the broker into the recorder.
func ProvideCollector(stream domrepo.BrokerStream, recorder *usecase.FeedbackRecorder, m domrepo.Metrics, l *applogger.Logger) *usecase.BrokerEventCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewOutcomePipeline(recorder, m,
		mid.WithBufferSize(2000),
		mid.WithDedupeTTL(time.Hour),
	)
	return usecase.NewBrokerEventCollector(stream, pipe, m, l)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.ClosedTopic == "" {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cc.GroupID,
		Workers:    cc.Workers,
		BufferSize: cc.BufferSize,
		RetryMax:   cc.RetryMax,
		BackoffMin: cc.BackoffMin,
		BackoffMax: cc.BackoffMax,
		DLQTopic:   cc.DLQTopic,
		MinBytes:   cc.MinBytes,
		MaxBytes:   cc.MaxBytes,
	}, l.With(applogger.String("component", "kafka_consumer")))
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvidePositionClosedHandler consumes position_closed events.
func ProvidePositionClosedHandler(cfg *config.Config, recorder *usecase.FeedbackRecorder, m domrepo.Metrics) *usecase.PositionClosedHandler {
	return usecase.NewPositionClosedHandler(cfg.Kafka.ClosedTopic, recorder, m)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	jobs *cron.Runner,
	recorder *usecase.FeedbackRecorder,
	collector *usecase.BrokerEventCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.PositionClosedHandler,
	q *queue.RedisQueue,
	journal domrepo.Journal,
	publisher domrepo.SamplePublisher,
	c cache.Service,
	ch *pkgch.Client,
	pg *pkgpg.Pool,
) *server.App {
	opts := []server.Option{}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil {
		consumer.Use(pkgkafka.TraceHook{Logger: l})
		opts = append(opts, server.WithConsumer(consumer, kh))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}

	closers := []server.Closer{
		{Name: "journal", Close: journal.Close},
		{Name: "publisher", Close: publisher.Close},
	}
	if cl, ok := c.(io.Closer); ok {
		closers = append(closers, server.Closer{Name: "cache", Close: cl.Close})
	}
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if pg != nil {
		closers = append(closers, server.Closer{Name: "postgres", Close: func() error { pg.Close(); return nil }})
	}
	opts = append(opts, server.WithClosers(closers...))

	return server.New(cfg, l, httpServer, jobs, recorder, opts...)
}
