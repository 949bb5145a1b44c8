package usecase

import (
	"context"
	"encoding/json"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	mid "TradeLoop/internal/middleware"
	pkgkafka "TradeLoop/pkg/kafka"
	applogger "TradeLoop/pkg/logger"
)

// ProcessClosed records a broker position_closed event as a trade outcome.
func (r *FeedbackRecorder) ProcessClosed(ctx context.Context, ev *models.PositionClosed) error {
	o := ev.Outcome()
	_, err := r.RecordOutcome(ctx, &o)
	return err
}

var _ mid.OutcomeSink = (*FeedbackRecorder)(nil)

// PositionClosedHandler consumes position_closed events from Kafka.
type PositionClosedHandler struct {
	topic   string
	sink    mid.OutcomeSink
	metrics domrepo.Metrics
}

func NewPositionClosedHandler(topic string, sink mid.OutcomeSink, metrics domrepo.Metrics) *PositionClosedHandler {
	return &PositionClosedHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *PositionClosedHandler) Topic() string { return h.topic }

// Handle accepts either the bare event or the bridge envelope
// {"type":"position_closed","data":{...}}. Malformed and unknown-decision
// events are dropped so they do not block the partition.
func (h *PositionClosedHandler) Handle(ctx context.Context, b []byte) error {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	payload := b
	if err := json.Unmarshal(b, &env); err == nil && env.Type != "" {
		if env.Type != "position_closed" {
			return nil
		}
		payload = env.Data
	}
	var ev models.PositionClosed
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if !ev.CloseTime.IsZero() {
		h.metrics.RecordLatency("outcome_e2e_seconds", time.Since(ev.CloseTime).Seconds())
	}

	start := time.Now()
	err := h.sink.ProcessClosed(ctx, &ev)
	h.metrics.RecordLatency("outcome_record_seconds", time.Since(start).Seconds())
	if err != nil {
		if models.IsKind(err, models.KindBadInput) {
			h.metrics.RecordError("consumer_bad_outcome")
			return nil
		}
		h.metrics.RecordError("consumer_record")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*PositionClosedHandler)(nil)

// BrokerEventCollector reads position_closed events from the broker stream
// and forwards them through the outcome pipeline.
type BrokerEventCollector struct {
	stream  domrepo.BrokerStream
	pipe    *mid.OutcomePipeline
	metrics domrepo.Metrics
	logger  *applogger.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewBrokerEventCollector(stream domrepo.BrokerStream, pipe *mid.OutcomePipeline, metrics domrepo.Metrics, logger *applogger.Logger) *BrokerEventCollector {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &BrokerEventCollector{stream: stream, pipe: pipe, metrics: metrics, logger: logger, done: make(chan struct{})}
}

// IsConnected returns true if the broker stream is connected.
func (c *BrokerEventCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start begins streaming. A failed first connect is returned but the
// collector keeps retrying in the background.
func (c *BrokerEventCollector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	err := c.stream.Connect(ctx)
	go c.run(ctx, err == nil)
	return err
}

func (c *BrokerEventCollector) run(ctx context.Context, connected bool) {
	defer close(c.done)
	for {
		if !connected && !c.reconnect(ctx) {
			return
		}
		evCh, errCh := c.stream.Read(ctx)
		c.consume(ctx, evCh)
		if ctx.Err() != nil {
			return
		}
		if err := <-errCh; err != nil {
			c.logger.Warn("broker stream interrupted", applogger.Error(err))
		}
		c.metrics.RecordError("broker_stream")
		connected = false
	}
}

// reconnect retries until it succeeds or ctx ends.
func (c *BrokerEventCollector) reconnect(ctx context.Context) bool {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("broker stream reconnect failed", applogger.Error(err))
	}
}

// consume drains events until the stream closes the channel.
func (c *BrokerEventCollector) consume(ctx context.Context, evCh <-chan *models.PositionClosed) {
	for ev := range evCh {
		if err := c.pipe.Process(ctx, ev); err != nil {
			c.logger.Warn("closed position not recorded",
				applogger.String("decision_id", ev.DecisionID), applogger.Error(err))
		}
		c.metrics.RecordLastPrice(ev.Symbol, ev.ExitPrice)
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *BrokerEventCollector) Shutdown(ctx context.Context) error {
	if c.cancel == nil {
		return c.stream.Close()
	}
	c.cancel()
	err := c.stream.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	c.pipe.Stop()
	return err
}
