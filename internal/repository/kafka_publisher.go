package repository

import (
	"context"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgkafka "TradeLoop/pkg/kafka"
)

// KafkaPublisher implements SamplePublisher for Kafka. Messages are keyed by
// symbol_timeframe so a key stays on one partition.
type KafkaPublisher struct {
	producer      *pkgkafka.Producer
	samplesTopic  string
	decisionTopic string
}

var _ domrepo.SamplePublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, samplesTopic, decisionTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, samplesTopic: samplesTopic, decisionTopic: decisionTopic}
}

type samplePayload struct {
	Symbol    string                `json:"symbol"`
	Timeframe string                `json:"timeframe"`
	Sample    models.TrainingSample `json:"sample"`
}

func (p *KafkaPublisher) PublishSample(ctx context.Context, symbol, timeframe string, s *models.TrainingSample) error {
	if p.samplesTopic == "" {
		return nil
	}
	key := models.SlotKey{Symbol: symbol, Timeframe: timeframe}.String()
	return p.producer.Publish(ctx, p.samplesTopic, []byte(key), samplePayload{
		Symbol:    symbol,
		Timeframe: timeframe,
		Sample:    *s,
	})
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, d *models.Decision) error {
	if p.decisionTopic == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.decisionTopic, []byte(d.Key().String()), d)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops everything; used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishSample(context.Context, string, string, *models.TrainingSample) error {
	return nil
}
func (NopPublisher) PublishDecision(context.Context, *models.Decision) error { return nil }
func (NopPublisher) Close() error { return nil }

// KafkaLogSink forwards aggregated log batches to a topic.
type KafkaLogSink struct {
	producer *pkgkafka.Producer
}

func NewKafkaLogSink(producer *pkgkafka.Producer) *KafkaLogSink {
	return &KafkaLogSink{producer: producer}
}

func (s *KafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, nil, payload)
}
