package features

import (
	"math"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/indicators"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}) aligned with
// candles: index 0 is NaN.
func ComputeLogReturns(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	if len(candles) > 0 {
		out[0] = math.NaN()
	}
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out[i] = 0
			continue
		}
		out[i] = math.Log(cur / prev)
	}
	return out
}

// RollingVolatility is the sample stdev of returns over the trailing window.
func RollingVolatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(returns); i++ {
		sum, sum2 := 0.0, 0.0
		ok := true
		for j := i - window + 1; j <= i; j++ {
			r := returns[j]
			if math.IsNaN(r) {
				ok = false
				break
			}
			sum += r
			sum2 += r * r
		}
		if !ok {
			continue
		}
		n := float64(window)
		mean := sum / n
		variance := (sum2 - n*mean*mean) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		out[i] = math.Sqrt(variance)
	}
	return out
}

// pctChange returns close[i]/close[i-k]-1 aligned with closes.
func pctChange(closes []float64, k int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		if i < k || closes[i-k] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-k] - 1
	}
	return out
}

// diff returns close[i]-close[i-k] aligned with closes.
func diff(closes []float64, k int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i] - closes[i-k]
	}
	return out
}

// ratioToMean returns x[i]/sma[i]-1, NaN where the mean is undefined.
func ratioToMean(x, sma []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if math.IsNaN(sma[i]) || sma[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i]/sma[i] - 1
	}
	return out
}

// spikeDensity is the share of the trailing window whose single-bar move
// exceeds the spike price threshold.
func spikeDensity(returns []float64, window int, thresholdPct float64) []float64 {
	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window; i < len(returns); i++ {
		n := 0
		for j := i - window + 1; j <= i; j++ {
			if math.Abs(returns[j])*100 > thresholdPct {
				n++
			}
		}
		out[i] = float64(n) / float64(window)
	}
	return out
}

func safeDiv(a, b, def float64) float64 {
	if b == 0 || math.IsNaN(b) {
		return def
	}
	return a / b
}

// series bundles the per-candle inputs shared by every feature column.
type series struct {
	closes  []float64
	volumes []float64
	ret1    []float64
	logRet  []float64
}

func newSeries(candles []models.Candle) series {
	closes := indicators.Closes(candles)
	return series{
		closes:  closes,
		volumes: indicators.Volumes(candles),
		ret1:    pctChange(closes, 1),
		logRet:  ComputeLogReturns(candles),
	}
}
