package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/repository"
	"TradeLoop/internal/services/features"
	applogger "TradeLoop/pkg/logger"

	"github.com/google/uuid"
)

// FeedbackConfig tunes the recorder.
type FeedbackConfig struct {
	// WriteBudget bounds a journal write on the decision path.
	WriteBudget time.Duration
	// HistoryCandles is how many stored candles back synthetic labels.
	HistoryCandles int
	Horizon        int
	Epsilon        map[models.Category]float64
}

func (c FeedbackConfig) withDefaults() FeedbackConfig {
	if c.WriteBudget <= 0 {
		c.WriteBudget = 500 * time.Millisecond
	}
	if c.HistoryCandles <= 0 {
		c.HistoryCandles = 2000
	}
	if c.Horizon <= 0 {
		c.Horizon = features.DefaultHorizon
	}
	return c
}

// LabelEpsilon returns the synthetic label band for a category.
func (c FeedbackConfig) LabelEpsilon(cat models.Category) float64 {
	if eps, ok := c.Epsilon[cat]; ok && eps > 0 {
		return eps
	}
	return models.DefaultLabelEpsilon(cat)
}

// SampleSource yields labeled training samples, most recent first.
type SampleSource interface {
	FetchTrainingSamples(ctx context.Context, symbol, timeframe string, limit int) ([]models.TrainingSample, error)
}

// FeedbackRecorder owns the decision/outcome journal. Writes that the
// backing journal refuses go to the spill file and are replayed later.
type FeedbackRecorder struct {
	journal    domrepo.Journal
	spill      *repository.SpillJournal
	calibrator *Calibrator
	publisher  domrepo.SamplePublisher
	candles    domrepo.CandleStore
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	cfg        FeedbackConfig

	decisionLocks keyedMutex
	outcomeLocks  keyedMutex
}

var _ SampleSource = (*FeedbackRecorder)(nil)

// NewFeedbackRecorder wires the recorder. spill, publisher and candles may be nil.
func NewFeedbackRecorder(
	journal domrepo.Journal,
	spill *repository.SpillJournal,
	calibrator *Calibrator,
	publisher domrepo.SamplePublisher,
	candles domrepo.CandleStore,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
	cfg FeedbackConfig,
) *FeedbackRecorder {
	if logger == nil {
		logger = applogger.NewNop()
	}
	if publisher == nil {
		publisher = repository.NopPublisher{}
	}
	return &FeedbackRecorder{
		journal:    journal,
		spill:      spill,
		calibrator: calibrator,
		publisher:  publisher,
		candles:    candles,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// RecordDecision assigns an id when missing and persists d. A journal
// failure spills d locally; the call fails only when the spill fails too.
func (r *FeedbackRecorder) RecordDecision(ctx context.Context, d *models.Decision) (string, error) {
	if d == nil || d.Symbol == "" {
		return "", models.Errorf(models.KindBadInput, "decision without symbol")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	unlock := r.decisionLocks.Lock(d.Key().String())
	defer unlock()

	wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteBudget)
	err := r.journal.AppendDecision(wctx, d)
	cancel()
	if err != nil {
		r.recordError(models.KindStoreUnavailable)
		r.logger.Warn("journal write failed, spilling decision",
			applogger.String("decision_id", d.ID), applogger.String("symbol", d.Symbol), applogger.Error(err))
		if serr := r.spillRecord(repository.SpillRecord{Kind: repository.SpillDecision, Decision: d}); serr != nil {
			return d.ID, models.NewError(models.KindStoreUnavailable, "decision not persisted", serr)
		}
	}

	if perr := r.publisher.PublishDecision(ctx, d); perr != nil {
		r.logger.Warn("decision publish failed", applogger.String("decision_id", d.ID), applogger.Error(perr))
	}
	return d.ID, nil
}

func (r *FeedbackRecorder) spillRecord(rec repository.SpillRecord) error {
	if r.spill == nil {
		return errors.New("no spill journal configured")
	}
	return r.spill.Append(rec)
}

// RecordOutcome attaches o to its decision. It reports false when the
// outcome was already recorded. New outcomes update calibration and are
// published as labeled samples.
func (r *FeedbackRecorder) RecordOutcome(ctx context.Context, o *models.TradeOutcome) (bool, error) {
	if err := validateOutcome(o); err != nil {
		return false, err
	}
	unlock := r.outcomeLocks.Lock(o.DecisionID)
	defer unlock()

	d, err := r.findDecision(ctx, o.DecisionID)
	if err != nil {
		return false, err
	}

	wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteBudget)
	inserted, err := r.journal.AppendOutcome(wctx, o)
	cancel()
	switch {
	case err != nil && models.IsKind(err, models.KindBadInput):
		// Decision only exists in the spill file; keep order behind it.
		if serr := r.spillRecord(repository.SpillRecord{Kind: repository.SpillOutcome, Outcome: o}); serr != nil {
			return false, models.NewError(models.KindStoreUnavailable, "outcome not persisted", serr)
		}
	case err != nil:
		r.recordError(models.KindStoreUnavailable)
		r.logger.Warn("journal write failed, spilling outcome",
			applogger.String("decision_id", o.DecisionID), applogger.Error(err))
		if serr := r.spillRecord(repository.SpillRecord{Kind: repository.SpillOutcome, Outcome: o}); serr != nil {
			return false, models.NewError(models.KindStoreUnavailable, "outcome not persisted", serr)
		}
	case !inserted:
		r.logger.Debug("duplicate outcome ignored", applogger.String("decision_id", o.DecisionID))
		return false, nil
	}

	side := o.Side
	if side != models.ActionBuy && side != models.ActionSell {
		side = d.Action
	}
	if r.calibrator != nil {
		ev := models.CalibrationEvent{
			DecisionID: d.ID,
			Symbol:     d.Symbol,
			Timeframe:  d.Timeframe,
			Action:     side,
			Confidence: d.Confidence,
			IsWin:      o.IsWin,
			CloseTime:  o.CloseTime,
		}
		if cerr := r.calibrator.Submit(ctx, ev); cerr != nil {
			r.recordError(models.KindStoreUnavailable)
			r.logger.Warn("calibration update failed, spilling event",
				applogger.String("decision_id", d.ID), applogger.Error(cerr))
			if serr := r.spillRecord(repository.SpillRecord{Kind: repository.SpillCalibration, Calibration: &ev}); serr != nil {
				r.logger.Error("calibration event lost", applogger.String("decision_id", d.ID), applogger.Error(serr))
			}
		}
	}

	if d.Features != nil {
		sample := &models.TrainingSample{
			Features:  *d.Features,
			Label:     features.OutcomeLabel(side, o.IsWin),
			Timestamp: d.T,
			Source:    models.SourceFeedback,
		}
		if perr := r.publisher.PublishSample(ctx, d.Symbol, d.Timeframe, sample); perr != nil {
			r.logger.Warn("sample publish failed", applogger.String("decision_id", d.ID), applogger.Error(perr))
		}
	}
	return true, nil
}

func validateOutcome(o *models.TradeOutcome) error {
	switch {
	case o == nil || o.DecisionID == "":
		return models.Errorf(models.KindBadInput, "decision_id is required")
	case o.Side != models.ActionBuy && o.Side != models.ActionSell:
		return models.Errorf(models.KindBadInput, "side must be buy or sell, got %q", o.Side)
	case o.CloseTime.IsZero():
		return models.Errorf(models.KindBadInput, "close_time is required")
	case o.EntryPrice <= 0 || o.ExitPrice <= 0:
		return models.Errorf(models.KindBadInput, "entry and exit prices must be positive")
	}
	return nil
}

// findDecision looks in the journal and then in the spill file.
func (r *FeedbackRecorder) findDecision(ctx context.Context, id string) (*models.Decision, error) {
	d, err := r.journal.GetDecision(ctx, id)
	if err == nil {
		return d, nil
	}
	if r.spill != nil {
		if sd, ok := r.spill.FindDecision(id); ok {
			return sd, nil
		}
	}
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, models.Errorf(models.KindBadInput, "unknown decision %s", id)
	}
	return nil, models.NewError(models.KindStoreUnavailable, "lookup decision", err)
}

// Decision returns a recorded decision by id.
func (r *FeedbackRecorder) Decision(ctx context.Context, id string) (*models.Decision, error) {
	return r.findDecision(ctx, id)
}

// FetchTrainingSamples joins journaled decisions with their outcomes. Rows
// without an outcome take the synthetic label of their candle; rows whose
// feature schema differs from the current builder are skipped.
func (r *FeedbackRecorder) FetchTrainingSamples(ctx context.Context, symbol, timeframe string, limit int) ([]models.TrainingSample, error) {
	entries, err := r.journal.Entries(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "fetch journal entries", err)
	}
	category := models.CategoryFor(symbol)
	schema := features.NewBuilder(category).Schema()

	var candles []models.Candle
	if r.candles != nil && len(entries) > 0 {
		candles, err = r.candles.GetLatestNCandles(ctx, symbol, r.cfg.HistoryCandles, domrepo.NormalizeTimeframe(timeframe))
		if err != nil {
			r.logger.Warn("candle fetch failed, outcome labels only",
				applogger.String("symbol", symbol), applogger.Error(err))
			candles = nil
		}
	}
	eps := r.cfg.LabelEpsilon(category)

	out := make([]models.TrainingSample, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		d := e.Decision
		if d.Features == nil || !d.Features.SameSchema(schema) {
			skipped++
			continue
		}
		s := models.TrainingSample{Features: *d.Features, Timestamp: d.T}
		if e.Outcome != nil {
			s.Label = features.OutcomeLabel(e.Outcome.Side, e.Outcome.IsWin)
			s.Source = models.SourceFeedback
		} else {
			label, ok := features.SyntheticLabelAt(candles, d.T, r.cfg.Horizon, eps)
			if !ok {
				continue
			}
			s.Label = label
			s.Source = models.SourceSynthetic
		}
		out = append(out, s)
	}
	if skipped > 0 {
		r.logger.Debug("journal rows with foreign schema skipped",
			applogger.String("symbol", symbol), applogger.Int("count", skipped))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// ReplaySpill drains the spill file into the journal and the calibrator in
// order.
func (r *FeedbackRecorder) ReplaySpill(ctx context.Context) (int, error) {
	if r.spill == nil {
		return 0, nil
	}
	n, err := r.spill.Replay(ctx, func(ctx context.Context, rec repository.SpillRecord) error {
		switch rec.Kind {
		case repository.SpillDecision:
			if rec.Decision == nil {
				return nil
			}
			return r.journal.AppendDecision(ctx, rec.Decision)
		case repository.SpillOutcome:
			if rec.Outcome == nil {
				return nil
			}
			_, err := r.journal.AppendOutcome(ctx, rec.Outcome)
			if models.IsKind(err, models.KindBadInput) {
				r.logger.Error("dropping spilled outcome without decision",
					applogger.String("decision_id", rec.Outcome.DecisionID), applogger.Error(err))
				return nil
			}
			return err
		case repository.SpillCalibration:
			if rec.Calibration == nil || r.calibrator == nil {
				return nil
			}
			_, err := r.calibrator.Update(ctx, *rec.Calibration)
			return err
		default:
			return fmt.Errorf("unknown spill record kind %q", rec.Kind)
		}
	})
	if n > 0 {
		r.logger.Info("spill replayed", applogger.Int("records", n))
	}
	return n, err
}

// Health reports the journal state.
func (r *FeedbackRecorder) Health(ctx context.Context) error { return r.journal.Health(ctx) }

func (r *FeedbackRecorder) recordError(kind models.ErrorKind) {
	if r.metrics != nil {
		r.metrics.RecordError(string(kind))
	}
}
