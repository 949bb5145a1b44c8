// Package indicators holds pure technical indicator functions over candle
// sequences. Every function returns a slice aligned with its input; entries
// before the first full window are NaN. Short inputs never panic.
package indicators

import (
	"math"

	"TradeLoop/internal/domain/models"
)

// Closes extracts close prices.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices.
func Highs(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices.
func Lows(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts tick volumes.
func Volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.TickVolume
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Last returns the final element of xs, or NaN when empty.
func Last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

// SMA is the rolling arithmetic mean over n values. A window containing NaN is NaN.
func SMA(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n <= 0 || len(values) < n {
		return out
	}
	for i := n - 1; i < len(values); i++ {
		sum := 0.0
		ok := true
		for j := i - n + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA uses alpha = 2/(n+1), seeded with the SMA of the first n defined values.
// Leading NaN entries are skipped so EMA can run over derived series like MACD.
func EMA(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < n {
		return out
	}
	seed := 0.0
	for j := start; j < start+n; j++ {
		seed += values[j]
	}
	prev := seed / float64(n)
	out[start+n-1] = prev
	alpha := 2.0 / float64(n+1)
	for i := start + n; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			out[i] = prev
			continue
		}
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI is Wilder's relative strength index over closes.
// It is 50 when both averages are zero and 100 when only losses are zero.
func RSI(closes []float64, n int) []float64 {
	out := nanSlice(len(closes))
	if n <= 0 || len(closes) <= n {
		return out
	}
	gain, loss := 0.0, 0.0
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	out[n] = rsiValue(avgGain, avgLoss)
	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return math.Max(0, math.Min(100, v))
}

// MACDResult holds the three MACD lines.
type MACDResult struct {
	MACD   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes EMA(fast)-EMA(slow), its EMA(signal) and the histogram.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	ef := EMA(closes, fast)
	es := EMA(closes, slow)
	line := nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(ef[i]) && !math.IsNaN(es[i]) {
			line[i] = ef[i] - es[i]
		}
	}
	sig := EMA(line, signal)
	hist := nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDResult{MACD: line, Signal: sig, Hist: hist}
}

// BandsResult holds a three-line channel.
type BandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns SMA(n) ± k·stdev(n); stdev uses the sample (n-1) divisor.
func Bollinger(closes []float64, n int, k float64) BandsResult {
	mid := SMA(closes, n)
	up := nanSlice(len(closes))
	lo := nanSlice(len(closes))
	for i := range closes {
		if math.IsNaN(mid[i]) {
			continue
		}
		sd := StdDev(closes[i-n+1:i+1], mid[i])
		up[i] = mid[i] + k*sd
		lo[i] = mid[i] - k*sd
	}
	return BandsResult{Upper: up, Middle: mid, Lower: lo}
}

// StdDev is the sample standard deviation of xs around mean.
func StdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		d := x - mean
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)-1))
}

// TrueRange returns max(h-l, |h-prevClose|, |l-prevClose|); the first bar uses h-l.
func TrueRange(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			pc := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-pc), math.Abs(c.Low-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATR is Wilder's average true range, seeded by the mean of the first n true ranges.
func ATR(candles []models.Candle, n int) []float64 {
	out := nanSlice(len(candles))
	if n <= 0 || len(candles) < n {
		return out
	}
	tr := TrueRange(candles)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += tr[i]
	}
	prev := sum / float64(n)
	out[n-1] = prev
	for i := n; i < len(candles); i++ {
		prev = (prev*float64(n-1) + tr[i]) / float64(n)
		out[i] = prev
	}
	return out
}

// StochasticResult holds raw and smoothed oscillator lines.
type StochasticResult struct {
	RawK []float64
	K    []float64
	D    []float64
}

// Stochastic computes raw %K over kPeriod, smooths it with SMA(smooth) and
// derives %D = SMA(dPeriod) of the smoothed %K. A flat range yields 50.
func Stochastic(candles []models.Candle, kPeriod, smooth, dPeriod int) StochasticResult {
	raw := nanSlice(len(candles))
	if kPeriod > 0 && len(candles) >= kPeriod {
		for i := kPeriod - 1; i < len(candles); i++ {
			hh, ll := math.Inf(-1), math.Inf(1)
			for j := i - kPeriod + 1; j <= i; j++ {
				hh = math.Max(hh, candles[j].High)
				ll = math.Min(ll, candles[j].Low)
			}
			if hh == ll {
				raw[i] = 50
				continue
			}
			raw[i] = 100 * (candles[i].Close - ll) / (hh - ll)
		}
	}
	k := SMA(raw, smooth)
	d := SMA(k, dPeriod)
	return StochasticResult{RawK: raw, K: k, D: d}
}

// Donchian returns the rolling max high, min low and their midpoint over n bars.
func Donchian(candles []models.Candle, n int) BandsResult {
	up := nanSlice(len(candles))
	lo := nanSlice(len(candles))
	mid := nanSlice(len(candles))
	if n <= 0 || len(candles) < n {
		return BandsResult{Upper: up, Middle: mid, Lower: lo}
	}
	for i := n - 1; i < len(candles); i++ {
		hh, ll := math.Inf(-1), math.Inf(1)
		for j := i - n + 1; j <= i; j++ {
			hh = math.Max(hh, candles[j].High)
			ll = math.Min(ll, candles[j].Low)
		}
		up[i], lo[i] = hh, ll
		mid[i] = (hh + ll) / 2
	}
	return BandsResult{Upper: up, Middle: mid, Lower: lo}
}
