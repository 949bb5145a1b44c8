package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// OutcomeSink is the downstream that records closed positions.
type OutcomeSink interface {
	ProcessClosed(ctx context.Context, ev *models.PositionClosed) error
}

// OutcomePipeline sits between the broker event sources and the feedback
// recorder. It validates, drops recently seen decision ids, and buffers
// events while the recorder's store is unavailable.
type OutcomePipeline struct {
	sink    OutcomeSink
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.PositionClosed
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex

	dedupeTTL  time.Duration
	seen       map[string]time.Time
	maxBackoff time.Duration
}

type PipelineOption func(*OutcomePipeline)

// WithBufferSize sets how many events are held while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *OutcomePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithDedupeTTL sets how long a processed decision id is remembered.
func WithDedupeTTL(d time.Duration) PipelineOption {
	return func(p *OutcomePipeline) {
		if d > 0 {
			p.dedupeTTL = d
		}
	}
}

// WithMaxBackoff caps the retry delay of buffered events.
func WithMaxBackoff(d time.Duration) PipelineOption {
	return func(p *OutcomePipeline) {
		if d > 0 {
			p.maxBackoff = d
		}
	}
}

func NewOutcomePipeline(sink OutcomeSink, metrics domrepo.Metrics, opts ...PipelineOption) *OutcomePipeline {
	p := &OutcomePipeline{
		sink:       sink,
		metrics:    metrics,
		bufSize:    1000,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		dedupeTTL:  time.Hour,
		seen:       make(map[string]time.Time),
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.PositionClosed, p.bufSize)
	return p
}

// Start launches the retry loop for buffered events.
func (p *OutcomePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case ev := <-p.bufCh:
				err := p.sink.ProcessClosed(ctx, ev)
				if err == nil || !retryable(err) {
					backoff = 50 * time.Millisecond
					if err == nil {
						p.remember(ev.DecisionID, time.Now())
					}
					continue
				}
				p.recordError("pipeline_flush")
				if backoff < p.maxBackoff {
					backoff *= 2
				}
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
				p.enqueue(ev)
			}
		}
	}()
}

// Stop ends the retry loop and waits for it.
func (p *OutcomePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Buffered returns the number of events waiting for retry.
func (p *OutcomePipeline) Buffered() int { return len(p.bufCh) }

// Process validates ev and forwards it. Store failures buffer the event and
// are returned; duplicates inside the dedupe window are dropped silently.
func (p *OutcomePipeline) Process(ctx context.Context, ev *models.PositionClosed) error {
	start := time.Now()
	if err := validateClosed(ev); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if p.recentlySeen(ev.DecisionID, start) {
		return nil
	}
	if err := p.sink.ProcessClosed(ctx, ev); err != nil {
		if !retryable(err) {
			p.recordError("pipeline_reject")
			return err
		}
		p.recordError("pipeline_process")
		p.enqueue(ev)
		return fmt.Errorf("outcome pipeline downstream: %w", err)
	}
	p.remember(ev.DecisionID, start)
	if p.metrics != nil {
		p.metrics.RecordLatency("outcome_pipeline", time.Since(start).Seconds())
	}
	return nil
}

func (p *OutcomePipeline) enqueue(ev *models.PositionClosed) {
	select {
	case p.bufCh <- ev:
		if p.metrics != nil {
			p.metrics.RecordLatency("outcome_buffer_depth", float64(len(p.bufCh)))
		}
	default:
		p.recordError("pipeline_buffer_full")
	}
}

func (p *OutcomePipeline) recentlySeen(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.seen[id]
	return ok && now.Sub(at) < p.dedupeTTL
}

func (p *OutcomePipeline) remember(id string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[id] = now
	if len(p.seen) > 4*p.bufSize {
		for k, at := range p.seen {
			if now.Sub(at) >= p.dedupeTTL {
				delete(p.seen, k)
			}
		}
	}
}

func (p *OutcomePipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

// retryable reports whether buffering may help.
func retryable(err error) bool {
	switch models.KindOf(err) {
	case models.KindStoreUnavailable, models.KindTimeout:
		return true
	}
	return false
}

func validateClosed(ev *models.PositionClosed) error {
	switch {
	case ev == nil:
		return models.Errorf(models.KindBadInput, "nil position_closed event")
	case ev.DecisionID == "":
		return models.Errorf(models.KindBadInput, "position_closed without decision_id")
	case ev.Symbol == "":
		return models.Errorf(models.KindBadInput, "position_closed without symbol")
	case ev.CloseTime.IsZero():
		return models.Errorf(models.KindBadInput, "position_closed without close_time")
	case ev.Side != models.ActionBuy && ev.Side != models.ActionSell:
		return models.Errorf(models.KindBadInput, "position_closed side %q", ev.Side)
	}
	return nil
}
