package usecase

import (
	"context"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"
)

// DecisionService serves the decision path: gather slot, calibration row,
// symbol digits and candles, fuse, then record.
type DecisionService struct {
	engine     *FusionEngine
	slots      domrepo.ModelStore
	calibrator *Calibrator
	recorder   *FeedbackRecorder
	gateway    domrepo.BrokerGateway
	candles    domrepo.CandleStore
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	// windowSize is how many stored candles back a request that brings none.
	windowSize int
	now        func() time.Time
}

// NewDecisionService wires the decision path. gateway and candles may be nil.
func NewDecisionService(
	engine *FusionEngine,
	slots domrepo.ModelStore,
	calibrator *Calibrator,
	recorder *FeedbackRecorder,
	gateway domrepo.BrokerGateway,
	candles domrepo.CandleStore,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
) *DecisionService {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &DecisionService{
		engine:     engine,
		slots:      slots,
		calibrator: calibrator,
		recorder:   recorder,
		gateway:    gateway,
		candles:    candles,
		metrics:    metrics,
		logger:     logger,
		windowSize: 200,
		now:        time.Now,
	}
}

// Decide emits and records one decision for req.
func (s *DecisionService) Decide(ctx context.Context, req *models.DecisionRequest) (*models.Decision, error) {
	start := time.Now()
	tf := domrepo.Timeframe(req.Timeframe)
	if !domrepo.IsValidTimeframe(tf) {
		return nil, models.Errorf(models.KindBadInput, "unknown timeframe %q", req.Timeframe)
	}

	in := FusionInput{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Bid:       req.Bid,
		Ask:       req.Ask,
		Indicators: Indicators{
			RSI:       req.RSI,
			EMAFastM1: req.EMAFastM1,
			EMASlowM1: req.EMASlowM1,
			EMAFastH1: req.EMAFastH1,
			EMASlowH1: req.EMASlowH1,
			ATR:       req.ATR,
			SpikeMode: req.SpikeMode,
			DirRule:   req.DirRule,
		},
		Candles: req.Candles,
		Now:     s.now().UTC(),
	}
	if req.Timestamp > 0 {
		in.Now = time.Unix(req.Timestamp, 0).UTC()
	}
	if len(in.Candles) == 0 && s.candles != nil {
		cs, err := s.candles.GetLatestNCandles(ctx, req.Symbol, s.windowSize, tf)
		if err != nil {
			s.logger.Debug("no stored candles for decision", applogger.String("symbol", req.Symbol), applogger.Error(err))
		} else {
			in.Candles = cs
		}
	}

	slot, _ := s.slots.Get(req.Symbol, req.Timeframe)
	var row *models.CalibrationRow
	if slot != nil && s.calibrator != nil {
		r, err := s.calibrator.Row(ctx, req.Symbol, req.Timeframe)
		if err != nil {
			s.logger.Warn("calibration row unavailable, using neutral row",
				applogger.String("symbol", req.Symbol), applogger.Error(err))
		} else {
			row = r
		}
	}

	d, err := s.engine.Decide(ctx, in, slot, row, s.digits(ctx, req.Symbol))
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	if _, err := s.recorder.RecordDecision(ctx, d); err != nil {
		s.logger.Error("decision not persisted", applogger.String("decision_id", d.ID), applogger.Error(err))
		s.recordError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(d.Symbol, d.Timeframe, string(d.Action), d.ModelUsed)
		s.metrics.RecordLastPrice(d.Symbol, d.Price)
		s.metrics.RecordLatency("decision", time.Since(start).Seconds())
	}
	return d, nil
}

// digits asks the broker for the symbol precision and falls back to the default.
func (s *DecisionService) digits(ctx context.Context, symbol string) int {
	if s.gateway == nil {
		return models.DefaultDigits
	}
	info, err := s.gateway.SymbolInfo(ctx, symbol)
	if err != nil || info.Digits <= 0 {
		return models.DefaultDigits
	}
	return info.Digits
}

func (s *DecisionService) recordError(err error) {
	if s.metrics != nil {
		s.metrics.RecordError(string(models.KindOf(err)))
	}
}

// Slots lists the loaded model slots, optionally filtered by symbol.
func (s *DecisionService) Slots(symbol string) []*models.ModelSlot {
	var out []*models.ModelSlot
	for _, k := range s.slots.List() {
		if symbol != "" && k.Symbol != symbol {
			continue
		}
		if slot, ok := s.slots.Get(k.Symbol, k.Timeframe); ok {
			out = append(out, slot)
		}
	}
	return out
}
