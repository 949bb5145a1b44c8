// Package patterns contains pure detectors that turn candles and indicator
// series into structured findings.
package patterns

import (
	"math"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/indicators"
)

// DivergenceKind is bullish (price lower low, oscillator higher low) or bearish.
type DivergenceKind string

const (
	Bullish DivergenceKind = "bullish"
	Bearish DivergenceKind = "bearish"
)

// Strength tags a finding.
type Strength string

const (
	Strong Strength = "strong"
	Weak   Strength = "weak"
)

// Default detector windows.
const (
	DivergenceWindow = 30
	DivergenceSwingW = 2
	strongOscGap     = 0.1
)

// Divergence is a price/oscillator disagreement between the last two swings.
type Divergence struct {
	Kind     DivergenceKind `json:"kind"`
	Index    int            `json:"index"`
	Strength Strength       `json:"strength"`
}

// Signal maps the divergence to a trade direction.
func (d *Divergence) Signal() models.Action {
	if d == nil {
		return models.ActionHold
	}
	if d.Kind == Bullish {
		return models.ActionBuy
	}
	return models.ActionSell
}

// RSIDivergence runs DetectDivergence against RSI(14).
func RSIDivergence(candles []models.Candle) *Divergence {
	return DetectDivergence(candles, indicators.RSI(indicators.Closes(candles), 14), DivergenceWindow, DivergenceSwingW)
}

// MACDDivergence runs DetectDivergence against the MACD line.
func MACDDivergence(candles []models.Candle) *Divergence {
	return DetectDivergence(candles, indicators.MACD(indicators.Closes(candles), 12, 26, 9).MACD, DivergenceWindow, DivergenceSwingW)
}

// DetectDivergence compares the last two price swing lows (and highs) inside
// the trailing window with the oscillator values at the same bars. When both
// kinds are present the more recent one wins. It returns nil when nothing is found.
func DetectDivergence(candles []models.Candle, osc []float64, window, swingW int) *Divergence {
	if len(candles) != len(osc) || len(candles) < 2*swingW+3 {
		return nil
	}
	start := 0
	if window > 0 && len(candles) > window {
		start = len(candles) - window
	}
	swings := indicators.SwingPoints(candles[start:], swingW)
	lows := indicators.Filter(swings, indicators.SwingLow)
	highs := indicators.Filter(swings, indicators.SwingHigh)

	var bull, bear *Divergence
	if len(lows) >= 2 {
		a, b := lows[len(lows)-2], lows[len(lows)-1]
		oa, ob := osc[start+a.Index], osc[start+b.Index]
		if !math.IsNaN(oa) && !math.IsNaN(ob) && b.Price < a.Price && ob > oa {
			bull = &Divergence{Kind: Bullish, Index: start + b.Index, Strength: oscStrength(oa, ob)}
		}
	}
	if len(highs) >= 2 {
		a, b := highs[len(highs)-2], highs[len(highs)-1]
		oa, ob := osc[start+a.Index], osc[start+b.Index]
		if !math.IsNaN(oa) && !math.IsNaN(ob) && b.Price > a.Price && ob < oa {
			bear = &Divergence{Kind: Bearish, Index: start + b.Index, Strength: oscStrength(oa, ob)}
		}
	}
	switch {
	case bull != nil && bear != nil:
		if bear.Index > bull.Index {
			return bear
		}
		return bull
	case bull != nil:
		return bull
	default:
		return bear
	}
}

func oscStrength(a, b float64) Strength {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return Weak
	}
	if math.Abs(b-a)/den >= strongOscGap {
		return Strong
	}
	return Weak
}
