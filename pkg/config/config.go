package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	xutil "TradeLoop/pkg/util"

	"gopkg.in/yaml.v3"
)

// Journal backends.
const (
	JournalClickHouse = "clickhouse"
	JournalPostgres   = "postgres"
	JournalMemory     = "memory"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		CORS            bool          `yaml:"cors"`
		RateLimit       struct {
			Burst     float64 `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Topic receives aggregated warn/error batches when Kafka is enabled.
		Topic         string        `yaml:"topic"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		FlushCount    int           `yaml:"flush_count"`
	} `yaml:"log"`
	Journal struct {
		Backend     string        `yaml:"backend"`
		SpillDir    string        `yaml:"spill_dir"`
		WriteBudget time.Duration `yaml:"write_budget"`
	} `yaml:"journal"`
	Models struct {
		Dir       string            `yaml:"dir"`
		Disabled  []string          `yaml:"disabled"`
		Overrides map[string]string `yaml:"overrides"`
	} `yaml:"models"`
	Fusion struct {
		Gate     float64       `yaml:"gate"`
		MLBudget time.Duration `yaml:"ml_budget"`
		Weights  struct {
			ML        float64 `yaml:"ml"`
			Technical float64 `yaml:"technical"`
			Trend     float64 `yaml:"trend"`
			Context   float64 `yaml:"context"`
		} `yaml:"weights"`
	} `yaml:"fusion"`
	Trainer struct {
		Schedule     string             `yaml:"schedule"`
		Interval     time.Duration      `yaml:"interval"`
		MinSamples   int                `yaml:"min_samples"`
		Horizon      int                `yaml:"horizon"`
		Epsilon      map[string]float64 `yaml:"epsilon"`
		Slots        []string           `yaml:"slots"`
		Workers      int                `yaml:"workers"`
		FetchTimeout time.Duration      `yaml:"fetch_timeout"`
		CacheTTL     time.Duration      `yaml:"cache_ttl"`
		SampleLimit  int                `yaml:"sample_limit"`
	} `yaml:"trainer"`
	Calibration struct {
		Eta              float64       `yaml:"eta"`
		ProcessedTTL     time.Duration `yaml:"processed_ttl"`
		ThresholdEvery   time.Duration `yaml:"threshold_every"`
		AsyncQueue       bool          `yaml:"async_queue"`
		QueueWorkers     int           `yaml:"queue_workers"`
		QueueRetryLimit  int           `yaml:"queue_retry_limit"`
		QueueRetryDelay  time.Duration `yaml:"queue_retry_delay"`
		SpillReplayEvery time.Duration `yaml:"spill_replay_every"`
	} `yaml:"calibration"`
	Broker struct {
		Enabled            bool          `yaml:"enabled"`
		BaseURL            string        `yaml:"base_url"`
		StreamURL          string        `yaml:"stream_url"`
		Token              string        `yaml:"token"`
		Timeout            time.Duration `yaml:"timeout"`
		ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
		PingInterval       time.Duration `yaml:"ping_interval"`
		SymbolInfoTTL      time.Duration `yaml:"symbol_info_ttl"`
		AllowStoplessRetry bool          `yaml:"allow_stopless_retry"`
	} `yaml:"broker"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		RequiredAcks   int      `yaml:"required_acks"`
		Compression    string   `yaml:"compression"`
		SamplesTopic   string   `yaml:"samples_topic"`
		DecisionsTopic string   `yaml:"decisions_topic"`
		ClosedTopic    string   `yaml:"position_closed_topic"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN            string        `yaml:"dsn"`
		MaxConns       int32         `yaml:"max_conns"`
		MinConns       int32         `yaml:"min_conns"`
		ConnLifetime   time.Duration `yaml:"conn_lifetime"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment
// variables and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TRADELOOP_ENV"); v != "" {
		c.Environment = v
	}
	c.Server.Port = xutil.ParseIntDefault(os.Getenv("TRADELOOP_PORT"), c.Server.Port)
	if v := os.Getenv("JOURNAL_BACKEND"); v != "" {
		c.Journal.Backend = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv("BROKER_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_TOKEN"); v != "" {
		c.Broker.Token = v
	}
	if v := xutil.SplitList(os.Getenv("KAFKA_BROKERS")); len(v) > 0 {
		c.Kafka.Brokers = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	c.Trainer.Interval = xutil.ParseDurationDefault(os.Getenv("TRAINER_INTERVAL"), c.Trainer.Interval)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = JournalMemory
	}
	if c.Journal.SpillDir == "" {
		c.Journal.SpillDir = "data/spill"
	}
	if c.Models.Dir == "" {
		c.Models.Dir = "data/models"
	}
	if c.Trainer.Interval == 0 {
		c.Trainer.Interval = 24 * time.Hour
	}
	if c.Calibration.ThresholdEvery == 0 {
		c.Calibration.ThresholdEvery = time.Hour
	}
	if c.Calibration.SpillReplayEvery == 0 {
		c.Calibration.SpillReplayEvery = time.Minute
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "tradeloop"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Journal.Backend {
	case JournalClickHouse:
		if c.ClickHouse.Host == "" {
			errs = append(errs, errors.New("clickhouse.host is required for the clickhouse journal"))
		}
	case JournalPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres journal"))
		}
	case JournalMemory:
	default:
		errs = append(errs, fmt.Errorf("journal.backend must be clickhouse, postgres or memory, got %q", c.Journal.Backend))
	}
	if c.Broker.Enabled && c.Broker.BaseURL == "" {
		errs = append(errs, errors.New("broker.base_url is required when the broker is enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers cannot be empty when kafka is enabled"))
	}
	if c.Calibration.AsyncQueue && !c.Redis.Enabled {
		errs = append(errs, errors.New("calibration.async_queue needs redis.enabled"))
	}
	if c.Fusion.Gate < 0 || c.Fusion.Gate >= 1 {
		errs = append(errs, fmt.Errorf("fusion.gate must be in [0,1), got %v", c.Fusion.Gate))
	}
	for _, k := range c.Trainer.Slots {
		if _, _, ok := SplitSlot(k); !ok {
			errs = append(errs, fmt.Errorf("trainer.slots entry %q is not SYMBOL_TF", k))
		}
	}
	return errors.Join(errs...)
}

// SplitSlot splits "EURUSD_M5" into symbol and timeframe at the last underscore.
func SplitSlot(s string) (symbol, timeframe string, ok bool) {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == '_' {
			if i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
