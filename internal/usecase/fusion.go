package usecase

import (
	"context"
	"math"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/features"
	"TradeLoop/internal/services/indicators"
	"TradeLoop/internal/services/patterns"

	"github.com/shopspring/decimal"
)

// Indicators are the optional precomputed values of a decision request.
type Indicators struct {
	RSI       *float64
	EMAFastM1 *float64
	EMASlowM1 *float64
	EMAFastH1 *float64
	EMASlowH1 *float64
	ATR       *float64
	SpikeMode bool
	DirRule   *int
}

// FusionInput is everything the engine looks at for one decision.
type FusionInput struct {
	Symbol     string
	Timeframe  string
	Bid        float64
	Ask        float64
	Indicators Indicators
	Candles    []models.Candle
	Now        time.Time
}

// Mid returns the mid price.
func (in FusionInput) Mid() float64 { return (in.Bid + in.Ask) / 2 }

// ChannelWeights weights the four fusion channels.
type ChannelWeights struct {
	ML        float64 `yaml:"ml" json:"ml"`
	Technical float64 `yaml:"technical" json:"technical"`
	Trend     float64 `yaml:"trend" json:"trend"`
	Context   float64 `yaml:"context" json:"context"`
}

// FusionConfig holds the fusion policy constants.
type FusionConfig struct {
	Weights ChannelWeights
	// Gate is the score a side needs to beat to become the base action.
	Gate float64
	// MLBudget bounds the model prediction; zero disables the bound.
	MLBudget time.Duration
}

// DefaultFusionConfig returns the documented policy.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Weights:  ChannelWeights{ML: 0.40, Technical: 0.30, Trend: 0.20, Context: 0.10},
		Gate:     0.65,
		MLBudget: 2 * time.Second,
	}
}

// Technical vote weights.
const (
	voteH1      = 0.35
	voteM5      = 0.25
	voteM1      = 0.20
	voteRSI     = 0.15
	voteContext = 0.05

	rsiOversold   = 30
	rsiOverbought = 70

	minConfidence   = 0.1
	confidenceFloor = 0.3
)

// FusionEngine turns one input, a model slot and a calibration row into a
// decision. Decide has no side effects.
type FusionEngine struct {
	cfg FusionConfig
}

func NewFusionEngine(cfg FusionConfig) *FusionEngine {
	def := DefaultFusionConfig()
	if cfg.Gate <= 0 {
		cfg.Gate = def.Gate
	}
	if cfg.Weights == (ChannelWeights{}) {
		cfg.Weights = def.Weights
	}
	return &FusionEngine{cfg: cfg}
}

// Config returns the engine policy.
func (e *FusionEngine) Config() FusionConfig { return e.cfg }

// Decide fuses the channels for in. A nil slot takes the technical-only
// path; a nil row is treated as neutral. digits rounds the stop levels.
func (e *FusionEngine) Decide(ctx context.Context, in FusionInput, slot *models.ModelSlot, row *models.CalibrationRow, digits int) (*models.Decision, error) {
	if in.Symbol == "" {
		return nil, models.Errorf(models.KindBadInput, "symbol is required")
	}
	if in.Bid <= 0 || in.Ask <= 0 || in.Ask < in.Bid {
		return nil, models.Errorf(models.KindBadInput, "invalid quote bid=%v ask=%v", in.Bid, in.Ask)
	}
	if digits <= 0 {
		digits = models.DefaultDigits
	}
	category := models.CategoryFor(in.Symbol)
	builder := features.NewBuilder(category)
	snapshot := featureSnapshot(builder, in)

	d := &models.Decision{
		Symbol:    in.Symbol,
		Timeframe: in.Timeframe,
		T:         in.Now.Unix(),
		Features:  snapshot,
		Price:     in.Mid(),
		ModelUsed: models.ModelUsedTechnical,
	}
	d.Scores.Technical = technicalChannel(in.Indicators)
	d.Scores.Trend = trendChannel(in)
	d.Scores.Context = contextChannel(in, category)

	if slot == nil {
		d.Action = d.Scores.Technical.Action
		d.Confidence = d.Scores.Technical.Confidence
		d.Reason = models.ReasonModelAbsent
		e.applyStops(d, category, digits)
		return d, nil
	}

	x, err := features.Align(snapshot, slot.FeatureSchema)
	if err != nil {
		return nil, err
	}
	pred, ok := e.predict(ctx, slot, x)
	if !ok {
		// Gate the remaining channels as if no model were loaded.
		d.Action, d.Confidence = e.fuse(d)
		d.Reason = models.ReasonMLTimeout
		e.applyStops(d, category, digits)
		return d, nil
	}
	d.ModelUsed = string(slot.Family)
	d.Scores.ML = models.ChannelScore{Action: pred.Action, Confidence: pred.Confidence, Available: true}

	base, baseConf := e.fuse(d)
	if row == nil {
		row = models.NewCalibrationRow(in.Symbol, in.Timeframe)
	}
	adjusted := enhance(baseConf, base, row, in.Now)

	reasons := []string{models.ReasonFused}
	if base == models.ActionHold {
		reasons = []string{models.ReasonNoConsensus}
	}
	d.Action = base
	if adjusted < math.Max(confidenceFloor, row.DriftFactor) {
		d.Action = models.ActionHold
		reasons = append(reasons, models.ReasonMLBelowThreshold)
	}
	d.Confidence = adjusted
	d.Reason = strings.Join(reasons, ",")
	e.applyStops(d, category, digits)
	return d, nil
}

// fuse computes the weighted side scores and the gated base action.
func (e *FusionEngine) fuse(d *models.Decision) (models.Action, float64) {
	w := e.cfg.Weights
	var buy, sell float64
	add := func(weight float64, s models.ChannelScore) {
		if !s.Available {
			return
		}
		switch s.Action {
		case models.ActionBuy:
			buy += weight * s.Confidence
		case models.ActionSell:
			sell += weight * s.Confidence
		}
	}
	add(w.ML, d.Scores.ML)
	add(w.Technical, d.Scores.Technical)
	add(w.Trend, d.Scores.Trend)
	add(w.Context, d.Scores.Context)
	d.Scores.BuyScore = buy
	d.Scores.SellScore = sell

	best := math.Max(buy, sell)
	switch {
	case buy == sell || best <= e.cfg.Gate:
		return models.ActionHold, best
	case buy > sell:
		return models.ActionBuy, best
	default:
		return models.ActionSell, best
	}
}

// enhance applies calibration weights, drift and hour bias to a confidence.
func enhance(conf float64, action models.Action, row *models.CalibrationRow, now time.Time) float64 {
	c := conf * row.Weight(action)
	if conf < row.DriftFactor {
		c *= 0.8
	}
	h := now.UTC().Hour()
	switch {
	case row.HourPatterns.IsBest(h):
		c *= 1.1
	case row.HourPatterns.IsWorst(h):
		c *= 0.9
	}
	return clamp(c, minConfidence, 1)
}

// predict runs the slot model within the ML budget. ok is false on timeout.
func (e *FusionEngine) predict(ctx context.Context, slot *models.ModelSlot, x []float64) (models.Prediction, bool) {
	if e.cfg.MLBudget <= 0 {
		return slot.Predict(x), true
	}
	out := make(chan models.Prediction, 1)
	go func() { out <- slot.Predict(x) }()
	timer := time.NewTimer(e.cfg.MLBudget)
	defer timer.Stop()
	select {
	case p := <-out:
		return p, true
	case <-timer.C:
		return models.Prediction{}, false
	case <-ctx.Done():
		return models.Prediction{}, false
	}
}

// applyStops sets SL/TP from the mid price for buy and sell; hold carries none.
func (e *FusionEngine) applyStops(d *models.Decision, category models.Category, digits int) {
	d.Confidence = clamp(d.Confidence, 0, 1)
	if d.Action == models.ActionHold {
		d.StopLoss, d.TakeProfit = nil, nil
		return
	}
	risk := models.RiskFor(category)
	entry := decimal.NewFromFloat(d.Price)
	one := decimal.NewFromInt(1)
	slPct := decimal.NewFromFloat(risk.StopLossPct)
	tpPct := decimal.NewFromFloat(risk.TakeProfitPct)

	var sl, tp decimal.Decimal
	if d.Action == models.ActionBuy {
		sl = entry.Mul(one.Sub(slPct))
		tp = entry.Mul(one.Add(tpPct))
	} else {
		sl = entry.Mul(one.Add(slPct))
		tp = entry.Mul(one.Sub(tpPct))
	}
	slf, _ := sl.Round(int32(digits)).Float64()
	tpf, _ := tp.Round(int32(digits)).Float64()
	d.StopLoss, d.TakeProfit = &slf, &tpf
}

// featureSnapshot is the latest candle vector, or the request indicators
// over sentinel defaults when the window is too short.
func featureSnapshot(b *features.Builder, in FusionInput) *models.FeatureVector {
	if v, err := b.Latest(in.Candles); err == nil {
		return v
	}
	known := map[string]float64{}
	if in.Indicators.RSI != nil {
		known["rsi_14"] = *in.Indicators.RSI
	}
	if in.Indicators.ATR != nil {
		known["atr_14"] = *in.Indicators.ATR
		if mid := in.Mid(); mid > 0 {
			known["atr_ratio"] = *in.Indicators.ATR / mid
		}
	}
	if !in.Now.IsZero() {
		now := in.Now.UTC()
		known["hour"] = float64(now.Hour())
		known["minute"] = float64(now.Minute())
		known["day_of_week"] = float64(now.Weekday())
	}
	return b.Sentinel(known)
}

// technicalChannel is the rule-based vote over EMA pairs, dir_rule and RSI.
func technicalChannel(ind Indicators) models.ChannelScore {
	var buy, sell float64
	vote := func(a models.Action, w float64) {
		switch a {
		case models.ActionBuy:
			buy += w
		case models.ActionSell:
			sell += w
		}
	}
	vote(emaCross(ind.EMAFastH1, ind.EMASlowH1), voteH1)
	vote(dirAction(ind.DirRule), voteM5)
	vote(emaCross(ind.EMAFastM1, ind.EMASlowM1), voteM1)
	if ind.RSI != nil {
		switch {
		case *ind.RSI < rsiOversold:
			vote(models.ActionBuy, voteRSI)
		case *ind.RSI > rsiOverbought:
			vote(models.ActionSell, voteRSI)
		}
	}
	if ind.SpikeMode {
		vote(dirAction(ind.DirRule), voteContext)
	}

	s := models.ChannelScore{Action: models.ActionHold, Confidence: 0.5, Available: true}
	if buy == sell {
		return s
	}
	s.Confidence = clamp(0.5+math.Abs(buy-sell), 0, 1)
	if buy > sell {
		s.Action = models.ActionBuy
	} else {
		s.Action = models.ActionSell
	}
	return s
}

// trendChannel reads EMA20/EMA50 of the candles, or the H1 pair without
// candles, and lets a confirmed stair confirm or set the direction.
func trendChannel(in FusionInput) models.ChannelScore {
	s := models.ChannelScore{Action: models.ActionHold}
	var fast, slow float64
	if len(in.Candles) >= 50 {
		closes := indicators.Closes(in.Candles)
		fast = indicators.Last(indicators.EMA(closes, 20))
		slow = indicators.Last(indicators.EMA(closes, 50))
	} else if in.Indicators.EMAFastH1 != nil && in.Indicators.EMASlowH1 != nil {
		fast, slow = *in.Indicators.EMAFastH1, *in.Indicators.EMASlowH1
	}
	if !math.IsNaN(fast) && !math.IsNaN(slow) && slow > 0 && fast != slow {
		s.Available = true
		s.Action = models.ActionSell
		if fast > slow {
			s.Action = models.ActionBuy
		}
		s.Confidence = clamp(0.5+100*math.Abs(fast-slow)/slow, 0.5, 0.9)
	}

	if len(in.Candles) > 0 {
		stair := patterns.DetectStair(in.Candles)
		if stair.Confirmed {
			switch {
			case !s.Available:
				s = models.ChannelScore{Action: stair.Direction, Confidence: clamp(0.5+0.05*float64(stair.Length), 0.5, 0.8), Available: true}
			case stair.Direction == s.Action:
				s.Confidence = clamp(s.Confidence+0.1, 0, 1)
			}
		}
	}
	return s
}

// contextChannel is the pattern composite, or spike mode with dir_rule when
// no candle window is available.
func contextChannel(in FusionInput, category models.Category) models.ChannelScore {
	if len(in.Candles) >= patterns.ZoneLookback {
		c := patterns.Analyze(in.Candles, category).Composite
		if c.Action == models.ActionHold {
			return models.ChannelScore{Action: models.ActionHold}
		}
		return models.ChannelScore{Action: c.Action, Confidence: c.Confidence, Available: true}
	}
	if in.Indicators.SpikeMode {
		if a := dirAction(in.Indicators.DirRule); a != models.ActionHold {
			return models.ChannelScore{Action: a, Confidence: 0.7, Available: true}
		}
	}
	return models.ChannelScore{Action: models.ActionHold}
}

func emaCross(fast, slow *float64) models.Action {
	if fast == nil || slow == nil || *fast == *slow {
		return models.ActionHold
	}
	if *fast > *slow {
		return models.ActionBuy
	}
	return models.ActionSell
}

func dirAction(dir *int) models.Action {
	if dir == nil {
		return models.ActionHold
	}
	switch {
	case *dir > 0:
		return models.ActionBuy
	case *dir < 0:
		return models.ActionSell
	}
	return models.ActionHold
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
