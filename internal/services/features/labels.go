package features

import "TradeLoop/internal/domain/models"

// DefaultHorizon is the forward look, in candles, of synthetic labels.
const DefaultHorizon = 3

// Label classifies the forward return from candle i over horizon bars:
// buy above +eps, sell below -eps, hold otherwise. ok is false when the
// horizon runs past the data.
func Label(candles []models.Candle, i, horizon int, eps float64) (models.Action, bool) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if i < 0 || i+horizon >= len(candles) || candles[i].Close <= 0 {
		return models.ActionHold, false
	}
	ret := candles[i+horizon].Close/candles[i].Close - 1
	switch {
	case ret > eps:
		return models.ActionBuy, true
	case ret < -eps:
		return models.ActionSell, true
	}
	return models.ActionHold, true
}

// OutcomeLabel is the label implied by a realized trade: a win confirms the
// traded side, a loss labels the opposite side.
func OutcomeLabel(side models.Action, isWin bool) models.Action {
	if side != models.ActionBuy && side != models.ActionSell {
		return models.ActionHold
	}
	if isWin {
		return side
	}
	return side.Opposite()
}

// SyntheticSamples labels every complete feature row with its forward return.
// Samples are returned most recent first.
func (b *Builder) SyntheticSamples(candles []models.Candle, horizon int, eps float64) []models.TrainingSample {
	m := b.Build(candles)
	out := make([]models.TrainingSample, 0, m.Len())
	for r := m.Len() - 1; r >= 0; r-- {
		label, ok := Label(candles, m.Index[r], horizon, eps)
		if !ok {
			continue
		}
		out = append(out, models.TrainingSample{
			Features:  models.FeatureVector{Names: m.Schema, Values: m.Rows[r]},
			Label:     label,
			Timestamp: m.Times[r],
			Source:    models.SourceSynthetic,
		})
	}
	return out
}

// SyntheticLabelAt returns the synthetic label of the candle at or before t.
func SyntheticLabelAt(candles []models.Candle, t int64, horizon int, eps float64) (models.Action, bool) {
	idx := -1
	for i, c := range candles {
		if c.T <= t {
			idx = i
			continue
		}
		break
	}
	if idx < 0 {
		return models.ActionHold, false
	}
	return Label(candles, idx, horizon, eps)
}
