package patterns

import (
	"math"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/indicators"
)

// Composite labels.
const (
	LabelStrongBuy  = "strong_buy"
	LabelBuy        = "buy"
	LabelHold       = "hold"
	LabelSell       = "sell"
	LabelStrongSell = "strong_sell"
)

// Findings gathers every detector output for one candle window.
type Findings struct {
	RSIDivergence  *Divergence  `json:"rsi_divergence,omitempty"`
	MACDDivergence *Divergence  `json:"macd_divergence,omitempty"`
	Fibonacci      []FibLevel   `json:"fibonacci,omitempty"`
	Trendlines     []Trendline  `json:"trendlines,omitempty"`
	Zones          ZoneSet      `json:"zones"`
	Spike          Spike        `json:"spike"`
	Stair          Stair        `json:"stair"`
	Momentum       Momentum     `json:"momentum"`
	Composite      CompositeSig `json:"composite"`
}

// CompositeSig is the summed directional vote of the detectors.
type CompositeSig struct {
	Label      string        `json:"label"`
	Score      int           `json:"score"`
	Confidence float64       `json:"confidence"`
	Action     models.Action `json:"action"`
}

// Analyze runs every detector on candles. The last close is the reference price.
func Analyze(candles []models.Candle, category models.Category) Findings {
	var f Findings
	if len(candles) == 0 {
		f.Zones.Signal = models.ActionHold
		f.Spike.Direction = models.ActionHold
		f.Stair.Direction = models.ActionHold
		f.Momentum.Signal = models.ActionHold
		f.Composite = Composite(f)
		return f
	}
	f.RSIDivergence = RSIDivergence(candles)
	f.MACDDivergence = MACDDivergence(candles)

	swings := indicators.SwingPoints(candles, DivergenceSwingW)
	f.Trendlines = Trendlines(swings, TrendlineTolerance)
	hs := indicators.Filter(swings, indicators.SwingHigh)
	ls := indicators.Filter(swings, indicators.SwingLow)
	if len(hs) > 0 && len(ls) > 0 {
		f.Fibonacci = FibonacciLevels(hs[len(hs)-1].Price, ls[len(ls)-1].Price)
	}

	f.Zones = Zones(candles, candles[len(candles)-1].Close, category)
	f.Spike = DetectSpike(candles)
	f.Stair = DetectStair(candles)
	f.Momentum = BoomCrashMomentum(candles)
	f.Composite = Composite(f)
	return f
}

// Composite sums +1 for every detector whose primary signal is buy and -1 for sell.
func Composite(f Findings) CompositeSig {
	score := 0
	vote := func(a models.Action) {
		switch a {
		case models.ActionBuy:
			score++
		case models.ActionSell:
			score--
		}
	}
	if f.RSIDivergence != nil {
		vote(f.RSIDivergence.Signal())
	}
	if f.MACDDivergence != nil {
		vote(f.MACDDivergence.Signal())
	}
	vote(f.Zones.Signal)
	if f.Spike.Detected {
		vote(f.Spike.Direction)
	}
	if f.Stair.Confirmed {
		vote(f.Stair.Direction)
	}
	vote(f.Momentum.Signal)
	return CompositeFromScore(score)
}

// CompositeFromScore maps a summed vote to a label and confidence.
func CompositeFromScore(score int) CompositeSig {
	c := CompositeSig{Score: score, Confidence: math.Min(math.Abs(float64(score))/5, 1)}
	switch {
	case score > 2:
		c.Label, c.Action = LabelStrongBuy, models.ActionBuy
	case score > 0:
		c.Label, c.Action = LabelBuy, models.ActionBuy
	case score < -2:
		c.Label, c.Action = LabelStrongSell, models.ActionSell
	case score < 0:
		c.Label, c.Action = LabelSell, models.ActionSell
	default:
		c.Label, c.Action = LabelHold, models.ActionHold
	}
	return c
}
