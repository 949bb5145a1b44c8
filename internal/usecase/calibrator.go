package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/services/calibration"
	applogger "TradeLoop/pkg/logger"
	"TradeLoop/pkg/queue"
)

// CalibrationJobType is the queue message type of asynchronous calibration updates.
const CalibrationJobType = "calibration.update"

type unmarker interface {
	Unmark(ctx context.Context, decisionID string) error
}

// Calibrator is the single writer of calibration rows.
type Calibrator struct {
	store   domrepo.CalibrationStore
	metrics domrepo.Metrics
	logger  *applogger.Logger
	eta     float64
	locks   keyedMutex
	// queue is set when updates are dispatched through the job queue.
	queue queue.Publisher
}

func NewCalibrator(store domrepo.CalibrationStore, metrics domrepo.Metrics, logger *applogger.Logger, eta float64) *Calibrator {
	if eta <= 0 {
		eta = calibration.DefaultEta
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &Calibrator{store: store, metrics: metrics, logger: logger, eta: eta}
}

// SetQueue routes Submit through q instead of applying inline.
func (c *Calibrator) SetQueue(q queue.Publisher) { c.queue = q }

// Submit applies ev directly or enqueues it when a queue is configured.
func (c *Calibrator) Submit(ctx context.Context, ev models.CalibrationEvent) error {
	if c.queue != nil {
		err := c.queue.Publish(ctx, CalibrationJobType, ev)
		if err == nil {
			return nil
		}
		c.logger.Warn("calibration enqueue failed, applying inline",
			applogger.String("decision_id", ev.DecisionID), applogger.Error(err))
	}
	_, err := c.Update(ctx, ev)
	return err
}

// Update folds one closed trade into its row. It reports false when the
// decision was already applied.
func (c *Calibrator) Update(ctx context.Context, ev models.CalibrationEvent) (bool, error) {
	if ev.DecisionID == "" || ev.Symbol == "" {
		return false, models.Errorf(models.KindBadInput, "calibration event without decision or symbol")
	}
	key := models.SlotKey{Symbol: ev.Symbol, Timeframe: ev.Timeframe}.String()
	unlock := c.locks.Lock(key)
	defer unlock()

	first, err := c.store.MarkProcessed(ctx, ev.DecisionID)
	if err != nil {
		return false, err
	}
	if !first {
		c.logger.Debug("calibration event already applied", applogger.String("decision_id", ev.DecisionID))
		return false, nil
	}

	row, err := c.store.Get(ctx, ev.Symbol, ev.Timeframe)
	if err == nil {
		row = calibration.Apply(row, ev, c.eta)
		err = c.store.Save(ctx, row)
	}
	if err != nil {
		if u, ok := c.store.(unmarker); ok {
			if uerr := u.Unmark(ctx, ev.DecisionID); uerr != nil {
				c.logger.Error("calibration unmark failed", applogger.String("decision_id", ev.DecisionID), applogger.Error(uerr))
			}
		}
		return false, fmt.Errorf("calibration update %s: %w", key, err)
	}
	if c.metrics != nil {
		c.metrics.RecordCalibration(row.Symbol, row.Timeframe, row.DriftFactor, row.WinRate())
	}
	return true, nil
}

// Row returns a snapshot of the calibration row for key.
func (c *Calibrator) Row(ctx context.Context, symbol, timeframe string) (*models.CalibrationRow, error) {
	return c.store.Get(ctx, symbol, timeframe)
}

// Rows returns every stored row.
func (c *Calibrator) Rows(ctx context.Context) ([]*models.CalibrationRow, error) {
	return c.store.List(ctx)
}

// RecomputeThresholds persists the grid-searched optimal threshold of every
// row as its drift factor. It returns how many rows changed.
func (c *Calibrator) RecomputeThresholds(ctx context.Context) (int, error) {
	rows, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ok, err := c.recompute(ctx, r.Symbol, r.Timeframe)
		if err != nil {
			c.logger.Error("threshold recompute failed",
				applogger.String("symbol", r.Symbol), applogger.String("timeframe", r.Timeframe), applogger.Error(err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (c *Calibrator) recompute(ctx context.Context, symbol, timeframe string) (bool, error) {
	unlock := c.locks.Lock(models.SlotKey{Symbol: symbol, Timeframe: timeframe}.String())
	defer unlock()

	row, err := c.store.Get(ctx, symbol, timeframe)
	if err != nil {
		return false, err
	}
	next, ok := calibration.ApplyThreshold(row)
	if !ok || next.DriftFactor == row.DriftFactor {
		return false, nil
	}
	next.LastUpdated = time.Now().UTC()
	if err := c.store.Save(ctx, next); err != nil {
		return false, err
	}
	if c.metrics != nil {
		c.metrics.RecordCalibration(symbol, timeframe, next.DriftFactor, next.WinRate())
	}
	return true, nil
}

// CalibrationJob applies queued calibration events.
type CalibrationJob struct {
	calibrator *Calibrator
}

func NewCalibrationJob(c *Calibrator) *CalibrationJob { return &CalibrationJob{calibrator: c} }

func (j *CalibrationJob) Type() string { return CalibrationJobType }

func (j *CalibrationJob) Handle(ctx context.Context, payload json.RawMessage) error {
	ev, err := queue.Decode[models.CalibrationEvent](payload)
	if err != nil {
		return models.NewError(models.KindBadInput, "calibration job", err)
	}
	_, err = j.calibrator.Update(ctx, ev)
	return err
}

var _ queue.Job = (*CalibrationJob)(nil)
