package kafka

import (
	"errors"
	"time"

	"github.com/creasty/defaults"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures a Producer. Zero fields take the default tag.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int           `default:"-1"`
	Compression  string        `default:"snappy"`
	MaxAttempts  int           `default:"3"`
	WriteTimeout time.Duration `default:"10s"`
	ReadTimeout  time.Duration `default:"10s"`
	BatchSize    int           `default:"100"`
	BatchBytes   int64         `default:"1048576"`
	Linger       time.Duration `default:"50ms"`
	Async        bool
	// KeyHashing routes equal keys to one partition.
	KeyHashing bool
}

func (c *ProducerConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka: producer needs at least one broker")
	}
	return nil
}

// ConsumerConfig configures a Consumer. Zero fields take the default tag.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string        `default:"tradeloop"`
	Workers    int           `default:"2"`
	BufferSize int           `default:"64"`
	RetryMax   int           `default:"3"`
	BackoffMin time.Duration `default:"100ms"`
	BackoffMax time.Duration `default:"5s"`
	// DLQTopic receives messages that still fail after RetryMax attempts.
	DLQTopic string
	MinBytes int `default:"1"`
	MaxBytes int `default:"10485760"`
}

func (c *ConsumerConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka: consumer needs at least one broker")
	}
	return nil
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}
