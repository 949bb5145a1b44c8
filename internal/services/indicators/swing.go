package indicators

import "TradeLoop/internal/domain/models"

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// Swing is a local extremum at Index.
type Swing struct {
	Index int
	Kind  SwingKind
	Price float64
}

// SwingPoints returns swing highs and lows in index order. Index i is a swing
// high when high[i] is the maximum over [i-w, i+w]; equal highs to the left
// disqualify it so a plateau yields a single swing. Edges without a full
// window on both sides are never swings.
func SwingPoints(candles []models.Candle, w int) []Swing {
	if w <= 0 || len(candles) < 2*w+1 {
		return nil
	}
	var out []Swing
	for i := w; i < len(candles)-w; i++ {
		isHigh, isLow := true, true
		for j := i - w; j <= i+w; j++ {
			if j == i {
				continue
			}
			if j < i {
				if candles[j].High >= candles[i].High {
					isHigh = false
				}
				if candles[j].Low <= candles[i].Low {
					isLow = false
				}
			} else {
				if candles[j].High > candles[i].High {
					isHigh = false
				}
				if candles[j].Low < candles[i].Low {
					isLow = false
				}
			}
		}
		if isHigh {
			out = append(out, Swing{Index: i, Kind: SwingHigh, Price: candles[i].High})
		}
		if isLow {
			out = append(out, Swing{Index: i, Kind: SwingLow, Price: candles[i].Low})
		}
	}
	return out
}

// SeriesSwings finds swing highs and lows in a plain series, skipping NaN.
func SeriesSwings(values []float64, w int) (highs, lows []int) {
	if w <= 0 || len(values) < 2*w+1 {
		return nil, nil
	}
	for i := w; i < len(values)-w; i++ {
		v := values[i]
		if v != v {
			continue
		}
		isHigh, isLow := true, true
		for j := i - w; j <= i+w && (isHigh || isLow); j++ {
			if j == i {
				continue
			}
			u := values[j]
			if u != u {
				isHigh, isLow = false, false
				break
			}
			if (j < i && u >= v) || (j > i && u > v) {
				isHigh = false
			}
			if (j < i && u <= v) || (j > i && u < v) {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, i)
		}
		if isLow {
			lows = append(lows, i)
		}
	}
	return highs, lows
}

// Filter returns swings of one kind.
func Filter(swings []Swing, kind SwingKind) []Swing {
	var out []Swing
	for _, s := range swings {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
