package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes the payload of one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

var (
	consumerMetricsOnce sync.Once
	consumedTotal       *prometheus.CounterVec
	handleSeconds       *prometheus.HistogramVec
	deadLettered        *prometheus.CounterVec
)

func registerConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_kafka_consumed_total",
			Help: "Messages handled by topic and result.",
		}, []string{"topic", "result"})
		handleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeloop_kafka_handle_seconds",
			Help:    "Handler latency including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"topic"})
		deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_kafka_dead_lettered_total",
			Help: "Messages moved to the dead letter topic.",
		}, []string{"topic"})
	})
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
	h      MessageHandler
}

// Consumer reads registered topics in one consumer group. Messages of a
// partition always land on the same worker, so per-partition order holds.
type Consumer struct {
	cfg      ConsumerConfig
	logger   *applogger.Logger
	hook     Hook
	handlers map[string]MessageHandler
	readers  []*kafka.Reader
	lanes    []chan delivery
	dlq      *kafka.Writer

	cancel  context.CancelFunc
	fetchWG sync.WaitGroup
	workWG  sync.WaitGroup
	started bool
}

func NewConsumer(cfg ConsumerConfig, logger *applogger.Logger) (*Consumer, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	registerConsumerMetrics()
	c := &Consumer{
		cfg:      cfg,
		logger:   logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// Use replaces the hook wrapped around every handler call. Call before Start.
func (c *Consumer) Use(h Hook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds h to its topic. Call before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	c.handlers[h.Topic()] = h
}

// Start launches one fetch loop per topic and the worker lanes.
func (c *Consumer) Start() error {
	if c.started {
		return errors.New("kafka consumer already started")
	}
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer has no handlers")
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.lanes = make([]chan delivery, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan delivery, c.cfg.BufferSize)
		c.workWG.Add(1)
		go c.work(ctx, c.lanes[i])
	}

	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: kafka.LastOffset,
		})
		c.readers = append(c.readers, r)
		c.fetchWG.Add(1)
		go c.fetch(ctx, r, h)
	}
	return nil
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader, h MessageHandler) {
	defer c.fetchWG.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka fetch failed", applogger.String("topic", h.Topic()), applogger.Error(err))
			if !sleep(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		lane := c.lanes[laneFor(msg.Topic, msg.Partition, len(c.lanes))]
		select {
		case lane <- delivery{reader: r, msg: msg, h: h}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, lane <-chan delivery) {
	defer c.workWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-lane:
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d delivery) {
	start := time.Now()
	hctx := c.hook.Before(ctx, d.msg)

	attempts, err := c.attempt(hctx, d)
	c.hook.After(hctx, d.msg, attempts, err)
	handleSeconds.WithLabelValues(d.msg.Topic).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		consumedTotal.WithLabelValues(d.msg.Topic, "ok").Inc()
	case ctx.Err() != nil:
		// Uncommitted; the group redelivers after restart.
		return
	default:
		consumedTotal.WithLabelValues(d.msg.Topic, "failed").Inc()
		c.deadLetter(ctx, d.msg, err)
	}

	if cerr := d.reader.CommitMessages(ctx, d.msg); cerr != nil && ctx.Err() == nil {
		c.logger.Warn("kafka commit failed",
			applogger.String("topic", d.msg.Topic),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Error(cerr))
	}
}

func (c *Consumer) attempt(ctx context.Context, d delivery) (int, error) {
	var err error
	for n := 1; n <= c.cfg.RetryMax+1; n++ {
		if err = d.h.Handle(ctx, d.msg.Value); err == nil {
			return n, nil
		}
		if n > c.cfg.RetryMax || !sleep(ctx, backoff(n, c.cfg.BackoffMin, c.cfg.BackoffMax)) {
			return n, err
		}
	}
	return c.cfg.RetryMax + 1, err
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		c.logger.Error("kafka message dropped",
			applogger.String("topic", msg.Topic),
			applogger.Int64("offset", msg.Offset),
			applogger.Error(cause))
		return
	}
	headers := append(append([]kafka.Header(nil), msg.Headers...),
		kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	err := c.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		c.logger.Error("kafka dead letter write failed", applogger.String("topic", msg.Topic), applogger.Error(err))
		return
	}
	deadLettered.WithLabelValues(msg.Topic).Inc()
}

// Stop halts fetching, lets workers finish their current message and closes
// the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.fetchWG.Wait()
		c.workWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer stop: %w", ctx.Err())
	}

	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func laneFor(topic string, partition, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(lanes))
}

func backoff(attempt int, lo, hi time.Duration) time.Duration {
	d := lo << (attempt - 1)
	if d <= 0 || d > hi {
		d = hi
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
