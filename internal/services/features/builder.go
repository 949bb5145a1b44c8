package features

import (
	"fmt"
	"math"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/indicators"
	"TradeLoop/internal/services/patterns"
)

// MinCandles is the warmup needed for the longest window (SMA50).
const MinCandles = 50

var baseSchema = []string{
	"oc_delta", "hl_delta", "ho_delta", "lo_delta",
	"ret_1", "ret_5", "ret_20",
	"vol_5", "vol_20",
	"price_sma_20", "price_sma_50",
	"mom_5", "mom_10", "mom_20",
	"hour", "minute", "day_of_week",
	"rsi_14", "macd_hist", "atr_14", "atr_ratio",
	"volume_ratio", "range_ratio", "body_ratio",
	"upper_shadow_ratio", "lower_shadow_ratio",
}

// Category-specific extras appended after the base schema.
const (
	FeatureVolRegime    = "vol_regime"
	FeatureSpikeDensity = "spike_density"
)

// Sentinels for features absent from a request.
var sentinels = map[string]float64{
	"rsi_14": 50,
}

// Builder assembles the fixed feature vector for one instrument category.
type Builder struct {
	category models.Category
	schema   []string
}

func NewBuilder(category models.Category) *Builder {
	schema := append([]string(nil), baseSchema...)
	switch category {
	case models.CategoryVolatility:
		schema = append(schema, FeatureVolRegime)
	case models.CategoryBoomCrash:
		schema = append(schema, FeatureSpikeDensity)
	}
	return &Builder{category: category, schema: schema}
}

// Category returns the builder's category.
func (b *Builder) Category() models.Category { return b.category }

// Schema returns a copy of the ordered feature names.
func (b *Builder) Schema() []string { return append([]string(nil), b.schema...) }

// Matrix is a feature table. Index maps each row back to its candle.
type Matrix struct {
	Schema []string
	Rows   [][]float64
	Index  []int
	Times  []int64
}

// Len returns the row count.
func (m Matrix) Len() int { return len(m.Rows) }

// Build computes every feature for every candle and drops rows with NaN.
func (b *Builder) Build(candles []models.Candle) Matrix {
	m := Matrix{Schema: b.Schema()}
	if len(candles) == 0 {
		return m
	}
	cols := b.columns(candles)
	for i, c := range candles {
		row := make([]float64, len(b.schema))
		ok := true
		for j := range b.schema {
			v := cols[j][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		m.Rows = append(m.Rows, row)
		m.Index = append(m.Index, i)
		m.Times = append(m.Times, c.T)
	}
	return m
}

// Latest returns the feature vector of the last candle.
func (b *Builder) Latest(candles []models.Candle) (*models.FeatureVector, error) {
	if len(candles) < MinCandles {
		return nil, models.Errorf(models.KindInsufficientData, "need %d candles, have %d", MinCandles, len(candles))
	}
	m := b.Build(candles)
	if m.Len() == 0 || m.Index[m.Len()-1] != len(candles)-1 {
		return nil, models.Errorf(models.KindInsufficientData, "last candle has undefined features")
	}
	return &models.FeatureVector{Names: m.Schema, Values: m.Rows[m.Len()-1]}, nil
}

// Sentinel builds a vector for the builder schema from known values; every
// other feature takes its documented default (50 for RSI, 0 otherwise).
func (b *Builder) Sentinel(known map[string]float64) *models.FeatureVector {
	v := &models.FeatureVector{Names: b.Schema(), Values: make([]float64, len(b.schema))}
	for i, name := range b.schema {
		if x, ok := known[name]; ok && !math.IsNaN(x) {
			v.Values[i] = x
			continue
		}
		v.Values[i] = sentinels[name]
	}
	return v
}

// Align returns the vector's values in schema order. The vector must carry
// exactly the schema's ordered keys.
func Align(v *models.FeatureVector, schema []string) ([]float64, error) {
	if v == nil {
		return nil, models.Errorf(models.KindBadInput, "nil feature vector")
	}
	if !v.SameSchema(schema) {
		return nil, models.NewError(models.KindBadInput,
			fmt.Sprintf("feature schema mismatch: have %d keys, model expects %d", len(v.Names), len(schema)), nil)
	}
	return append([]float64(nil), v.Values...), nil
}

func (b *Builder) columns(candles []models.Candle) [][]float64 {
	n := len(candles)
	s := newSeries(candles)
	sma20 := indicators.SMA(s.closes, 20)
	sma50 := indicators.SMA(s.closes, 50)
	vol5 := RollingVolatility(s.logRet, 5)
	vol20 := RollingVolatility(s.logRet, 20)
	rsi := indicators.RSI(s.closes, 14)
	macd := indicators.MACD(s.closes, 12, 26, 9)
	atr := indicators.ATR(candles, 14)
	volSMA := indicators.SMA(s.volumes, 20)

	byName := map[string][]float64{
		"ret_1":        s.ret1,
		"ret_5":        pctChange(s.closes, 5),
		"ret_20":       pctChange(s.closes, 20),
		"vol_5":        vol5,
		"vol_20":       vol20,
		"price_sma_20": ratioToMean(s.closes, sma20),
		"price_sma_50": ratioToMean(s.closes, sma50),
		"mom_5":        diff(s.closes, 5),
		"mom_10":       diff(s.closes, 10),
		"mom_20":       diff(s.closes, 20),
		"rsi_14":       rsi,
		"macd_hist":    macd.Hist,
		"atr_14":       atr,
	}
	perBar := func(f func(i int, c models.Candle) float64) []float64 {
		out := make([]float64, n)
		for i, c := range candles {
			out[i] = f(i, c)
		}
		return out
	}
	byName["oc_delta"] = perBar(func(_ int, c models.Candle) float64 { return safeDiv(c.Close-c.Open, c.Open, 0) })
	byName["hl_delta"] = perBar(func(_ int, c models.Candle) float64 { return safeDiv(c.High-c.Low, c.Low, 0) })
	byName["ho_delta"] = perBar(func(_ int, c models.Candle) float64 { return safeDiv(c.High-c.Open, c.Open, 0) })
	byName["lo_delta"] = perBar(func(_ int, c models.Candle) float64 { return safeDiv(c.Low-c.Open, c.Open, 0) })
	byName["hour"] = perBar(func(_ int, c models.Candle) float64 { return float64(c.Time().Hour()) })
	byName["minute"] = perBar(func(_ int, c models.Candle) float64 { return float64(c.Time().Minute()) })
	byName["day_of_week"] = perBar(func(_ int, c models.Candle) float64 { return float64(c.Time().Weekday()) })
	byName["atr_ratio"] = perBar(func(i int, c models.Candle) float64 { return safeDiv(atr[i], c.Close, math.NaN()) })
	byName["volume_ratio"] = perBar(func(i int, c models.Candle) float64 {
		if math.IsNaN(volSMA[i]) {
			return math.NaN()
		}
		return safeDiv(c.TickVolume, volSMA[i], 1)
	})
	byName["range_ratio"] = perBar(func(_ int, c models.Candle) float64 { return safeDiv(c.High-c.Low, c.Close, 0) })
	byName["body_ratio"] = perBar(func(_ int, c models.Candle) float64 {
		return safeDiv(math.Abs(c.Close-c.Open), c.High-c.Low, 0)
	})
	byName["upper_shadow_ratio"] = perBar(func(_ int, c models.Candle) float64 {
		return safeDiv(c.High-math.Max(c.Open, c.Close), c.High-c.Low, 0)
	})
	byName["lower_shadow_ratio"] = perBar(func(_ int, c models.Candle) float64 {
		return safeDiv(math.Min(c.Open, c.Close)-c.Low, c.High-c.Low, 0)
	})
	byName[FeatureVolRegime] = perBar(func(i int, _ models.Candle) float64 {
		if math.IsNaN(vol5[i]) || math.IsNaN(vol20[i]) {
			return math.NaN()
		}
		return safeDiv(vol5[i], vol20[i], 1)
	})
	byName[FeatureSpikeDensity] = spikeDensity(s.ret1, 20, patterns.SpikePriceChangePct)

	cols := make([][]float64, len(b.schema))
	for j, name := range b.schema {
		cols[j] = byName[name]
	}
	return cols
}
