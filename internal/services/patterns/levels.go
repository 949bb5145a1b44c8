package patterns

import (
	"math"
	"sort"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/indicators"
)

// FibRatios are the retracement ratios in percent.
var FibRatios = []float64{0, 23.6, 38.2, 50, 61.8, 78.6, 100}

// FibLevel is one retracement price.
type FibLevel struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// FibonacciLevels measures retracements down from high toward low.
func FibonacciLevels(high, low float64) []FibLevel {
	out := make([]FibLevel, len(FibRatios))
	for i, r := range FibRatios {
		out[i] = FibLevel{Ratio: r, Price: high - (high-low)*r/100}
	}
	return out
}

// TrendlineTolerance is the relative distance a third swing may lie from a line.
const TrendlineTolerance = 0.02

// Trendline is a segment between two same-kind swings.
type Trendline struct {
	Kind          indicators.SwingKind `json:"kind"`
	StartIndex    int                  `json:"start_index"`
	StartPrice    float64              `json:"start_price"`
	EndIndex      int                  `json:"end_index"`
	EndPrice      float64              `json:"end_price"`
	Slope         float64              `json:"slope"`
	Confirmations int                  `json:"confirmations"`
}

// At returns the line price at index i.
func (l Trendline) At(i int) float64 {
	return l.StartPrice + l.Slope*float64(i-l.StartIndex)
}

// Trendlines enumerates every same-kind swing pair and keeps segments with at
// least one confirming third swing within tol of the line.
func Trendlines(swings []indicators.Swing, tol float64) []Trendline {
	var out []Trendline
	for _, kind := range []indicators.SwingKind{indicators.SwingLow, indicators.SwingHigh} {
		pts := indicators.Filter(swings, kind)
		for a := 0; a < len(pts); a++ {
			for b := a + 1; b < len(pts); b++ {
				p, q := pts[a], pts[b]
				if q.Index == p.Index {
					continue
				}
				line := Trendline{
					Kind:       kind,
					StartIndex: p.Index,
					StartPrice: p.Price,
					EndIndex:   q.Index,
					EndPrice:   q.Price,
					Slope:      (q.Price - p.Price) / float64(q.Index-p.Index),
				}
				for c := range pts {
					if c == a || c == b {
						continue
					}
					v := line.At(pts[c].Index)
					if v != 0 && math.Abs(pts[c].Price-v)/math.Abs(v) <= tol {
						line.Confirmations++
					}
				}
				if line.Confirmations >= 1 {
					out = append(out, line)
				}
			}
		}
	}
	return out
}

// Zone parameters.
const (
	ZoneLookback          = 20
	ZoneMinTouches        = 3
	ZoneHighConfidence    = 0.9
	ZoneMinDistanceFrac   = 0.0005
	zoneTouchesNormalizer = 10.0
)

// ZoneKind is support or resistance relative to the current price.
type ZoneKind string

const (
	Support    ZoneKind = "support"
	Resistance ZoneKind = "resistance"
)

// Zone is a price level touched repeatedly within the lookback.
type Zone struct {
	Level          float64  `json:"level"`
	Kind           ZoneKind `json:"kind"`
	Touches        int      `json:"touches"`
	Confidence     float64  `json:"confidence"`
	Valid          bool     `json:"valid"`
	HighConfidence bool     `json:"high_confidence"`
}

// ZoneSet is the result of zone detection at one price.
type ZoneSet struct {
	Supports    []Zone        `json:"supports"`
	Resistances []Zone        `json:"resistances"`
	Signal      models.Action `json:"signal"`
}

// Zones detects support and resistance over the last 20 candles. Candidate
// levels are the bars' highs and lows; a bar touches a level when its high or
// low lies within the category tolerance. Levels closer than 0.05% to price
// are dropped. Signal is buy when the nearest valid zone is a support and sell
// when it is a resistance.
func Zones(candles []models.Candle, price float64, category models.Category) ZoneSet {
	set := ZoneSet{Signal: models.ActionHold}
	if len(candles) == 0 || price <= 0 {
		return set
	}
	window := candles
	if len(window) > ZoneLookback {
		window = window[len(window)-ZoneLookback:]
	}
	tol := models.ZoneTolerancePct(category) / 100

	type cand struct {
		level   float64
		touches int
	}
	var cands []cand
	for _, c := range window {
		for _, lvl := range []float64{c.High, c.Low} {
			if lvl <= 0 {
				continue
			}
			cands = append(cands, cand{level: lvl, touches: countTouches(window, lvl, tol)})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].touches != cands[j].touches {
			return cands[i].touches > cands[j].touches
		}
		return cands[i].level < cands[j].level
	})

	var accepted []float64
	for _, c := range cands {
		dup := false
		for _, a := range accepted {
			if math.Abs(c.level-a)/a <= tol {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		accepted = append(accepted, c.level)
		if math.Abs(c.level-price)/price < ZoneMinDistanceFrac {
			continue
		}
		conf := math.Min(float64(c.touches)/zoneTouchesNormalizer, 1)
		z := Zone{
			Level:          c.level,
			Touches:        c.touches,
			Confidence:     conf,
			Valid:          c.touches >= ZoneMinTouches,
			HighConfidence: conf >= ZoneHighConfidence,
		}
		if c.level < price {
			z.Kind = Support
			set.Supports = append(set.Supports, z)
		} else {
			z.Kind = Resistance
			set.Resistances = append(set.Resistances, z)
		}
	}
	sort.Slice(set.Supports, func(i, j int) bool { return set.Supports[i].Level > set.Supports[j].Level })
	sort.Slice(set.Resistances, func(i, j int) bool { return set.Resistances[i].Level < set.Resistances[j].Level })

	ds, dr := math.Inf(1), math.Inf(1)
	for _, z := range set.Supports {
		if z.Valid {
			ds = price - z.Level
			break
		}
	}
	for _, z := range set.Resistances {
		if z.Valid {
			dr = z.Level - price
			break
		}
	}
	switch {
	case ds < dr:
		set.Signal = models.ActionBuy
	case dr < ds:
		set.Signal = models.ActionSell
	}
	return set
}

func countTouches(window []models.Candle, level, tol float64) int {
	n := 0
	for _, c := range window {
		if math.Abs(c.High-level)/level <= tol || math.Abs(c.Low-level)/level <= tol {
			n++
		}
	}
	return n
}
