package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/features"
)

// fixedClassifier always answers with the same class probabilities.
type fixedClassifier struct {
	proba []float64
	delay time.Duration
}

func (c *fixedClassifier) Family() models.ModelFamily { return models.FamilyLogistic }
func (c *fixedClassifier) Fit([][]float64, []int) error { return nil }
func (c *fixedClassifier) FeatureImportances() []float64 { return nil }
func (c *fixedClassifier) Predict(X [][]float64) []int { return make([]int, len(X)) }

func (c *fixedClassifier) PredictProba([]float64) []float64 {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.proba
}

func fptr(v float64) *float64 { return &v }

func eurusdInput(rsi float64) FusionInput {
	return FusionInput{
		Symbol:    "EURUSD",
		Timeframe: "M1",
		Bid:       1.10000,
		Ask:       1.10002,
		Indicators: Indicators{
			RSI:       fptr(rsi),
			EMAFastM1: fptr(1.1),
			EMASlowM1: fptr(1.1),
			EMAFastH1: fptr(1.1),
			EMASlowH1: fptr(1.1),
			ATR:       fptr(0.0005),
		},
		Now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func forexSlot(clf models.Classifier) *models.ModelSlot {
	return &models.ModelSlot{
		Symbol:        "EURUSD",
		Timeframe:     "M1",
		Family:        clf.Family(),
		Model:         clf,
		FeatureSchema: features.NewBuilder(models.CategoryForex).Schema(),
		Category:      models.CategoryForex,
	}
}

func TestFusionNeutralWithoutSlot(t *testing.T) {
	e := NewFusionEngine(DefaultFusionConfig())
	d, err := e.Decide(context.Background(), eurusdInput(50), nil, nil, 5)
	require.NoError(t, err)

	assert.Equal(t, models.ActionHold, d.Action)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
	assert.Nil(t, d.StopLoss)
	assert.Nil(t, d.TakeProfit)
	assert.Equal(t, models.ModelUsedTechnical, d.ModelUsed)
	assert.Equal(t, models.ReasonModelAbsent, d.Reason)
}

func TestFusionOversoldBuysWithForexStops(t *testing.T) {
	e := NewFusionEngine(DefaultFusionConfig())
	d, err := e.Decide(context.Background(), eurusdInput(22), nil, nil, 5)
	require.NoError(t, err)

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.GreaterOrEqual(t, d.Confidence, 0.6)
	require.NotNil(t, d.StopLoss)
	require.NotNil(t, d.TakeProfit)
	assert.InDelta(t, 1.08900, *d.StopLoss, 1e-4)
	assert.InDelta(t, 1.16600, *d.TakeProfit, 1e-4)
	assert.Less(t, *d.StopLoss, d.Price)
	assert.Greater(t, *d.TakeProfit, d.Price)
}

func TestFusionModelBelowDriftFloorHolds(t *testing.T) {
	e := NewFusionEngine(DefaultFusionConfig())
	row := models.NewCalibrationRow("EURUSD", "M1")
	row.DriftFactor = 0.90
	slot := forexSlot(&fixedClassifier{proba: []float64{0.20, 0.25, 0.55}})

	d, err := e.Decide(context.Background(), eurusdInput(50), slot, row, 5)
	require.NoError(t, err)

	assert.Equal(t, models.ActionHold, d.Action)
	assert.True(t, strings.Contains(d.Reason, models.ReasonMLBelowThreshold), d.Reason)
	assert.Equal(t, string(models.FamilyLogistic), d.ModelUsed)
	assert.True(t, d.Scores.ML.Available)
	assert.InDelta(t, 0.55, d.Scores.ML.Confidence, 1e-9)
	assert.Nil(t, d.StopLoss)
}

func TestFusionTieHolds(t *testing.T) {
	e := NewFusionEngine(FusionConfig{
		Weights: ChannelWeights{ML: 0.5, Technical: 0.5},
		Gate:    0.1,
	})
	d := &models.Decision{}
	d.Scores.ML = models.ChannelScore{Action: models.ActionBuy, Confidence: 0.8, Available: true}
	d.Scores.Technical = models.ChannelScore{Action: models.ActionSell, Confidence: 0.8, Available: true}

	action, best := e.fuse(d)
	assert.Equal(t, models.ActionHold, action)
	assert.InDelta(t, 0.4, best, 1e-9)
	assert.Equal(t, d.Scores.BuyScore, d.Scores.SellScore)
}

func TestFusionGateIsStrict(t *testing.T) {
	e := NewFusionEngine(FusionConfig{Weights: ChannelWeights{ML: 1}, Gate: 0.65})
	d := &models.Decision{}
	d.Scores.ML = models.ChannelScore{Action: models.ActionSell, Confidence: 0.65, Available: true}
	action, _ := e.fuse(d)
	assert.Equal(t, models.ActionHold, action)

	d.Scores.ML.Confidence = 0.9
	action, _ = e.fuse(d)
	assert.Equal(t, models.ActionSell, action)
}

func TestFusionTimeoutFallsBackToGatedBase(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.MLBudget = 10 * time.Millisecond
	e := NewFusionEngine(cfg)
	slot := forexSlot(&fixedClassifier{proba: []float64{0.1, 0.1, 0.8}, delay: 300 * time.Millisecond})

	d, err := e.Decide(context.Background(), eurusdInput(22), slot, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonMLTimeout, d.Reason)
	assert.Equal(t, models.ModelUsedTechnical, d.ModelUsed)
	assert.False(t, d.Scores.ML.Available)

	// The oversold technical vote alone stays under the fusion gate.
	assert.Equal(t, models.ActionBuy, d.Scores.Technical.Action)
	assert.Greater(t, d.Scores.BuyScore, d.Scores.SellScore)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.InDelta(t, d.Scores.BuyScore, d.Confidence, 1e-12)
	assert.Less(t, d.Confidence, cfg.Gate)
	assert.Nil(t, d.StopLoss)
	assert.Nil(t, d.TakeProfit)
}

func TestFusionSchemaMismatchIsBadInput(t *testing.T) {
	e := NewFusionEngine(DefaultFusionConfig())
	slot := forexSlot(&fixedClassifier{proba: []float64{0.1, 0.1, 0.8}})
	slot.FeatureSchema = []string{"rsi_14"}

	_, err := e.Decide(context.Background(), eurusdInput(50), slot, nil, 5)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindBadInput))
}

func TestFusionRejectsCrossedQuote(t *testing.T) {
	e := NewFusionEngine(DefaultFusionConfig())
	in := eurusdInput(50)
	in.Bid, in.Ask = 1.2, 1.1

	_, err := e.Decide(context.Background(), in, nil, nil, 5)
	assert.True(t, models.IsKind(err, models.KindBadInput))
}

func TestEnhanceHourBias(t *testing.T) {
	row := models.NewCalibrationRow("EURUSD", "M1")
	row.DriftFactor = 0.5
	row.HourPatterns = models.HourPatterns{BestHours: []int{9}, WorstHours: []int{3}}

	best := enhance(0.7, models.ActionBuy, row, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	worst := enhance(0.7, models.ActionBuy, row, time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	plain := enhance(0.7, models.ActionBuy, row, time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC))

	assert.InDelta(t, 0.77, best, 1e-9)
	assert.InDelta(t, 0.63, worst, 1e-9)
	assert.InDelta(t, 0.7, plain, 1e-9)
	assert.Equal(t, minConfidence, enhance(0.01, models.ActionBuy, row, time.Time{}))
}
