package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	producerMetricsOnce sync.Once
	producedTotal       *prometheus.CounterVec
	producedBytes       *prometheus.CounterVec
	publishSeconds      *prometheus.HistogramVec
)

func registerProducerMetrics() {
	producerMetricsOnce.Do(func() {
		producedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_kafka_produced_total",
			Help: "Messages written to Kafka by topic and result.",
		}, []string{"topic", "result"})
		producedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_kafka_produced_bytes_total",
			Help: "Payload bytes written to Kafka.",
		}, []string{"topic"})
		publishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeloop_kafka_publish_seconds",
			Help:    "Kafka write latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"topic"})
	})
}

// Producer publishes JSON payloads. One writer serves every topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.KeyHashing {
		balancer = &kafka.Hash{}
	}
	registerProducerMetrics()
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  compressionCodec(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   cfg.BatchBytes,
		BatchTimeout: cfg.Linger,
		Async:        cfg.Async,
	}}, nil
}

// Publish writes value to topic. Byte slices and strings are sent as is;
// anything else is JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	payload, err := encode(value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload, Time: start})

	result := "ok"
	if err != nil {
		result = "error"
	}
	producedTotal.WithLabelValues(topic, result).Inc()
	producedBytes.WithLabelValues(topic).Add(float64(len(payload)))
	publishSeconds.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kafka encode %T: %w", value, err)
	}
	return b, nil
}
