package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/repository"
	"TradeLoop/pkg/cache"
)

func newTestCalibrator(t *testing.T) (*Calibrator, *recordingMetrics) {
	t.Helper()
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	t.Cleanup(func() { _ = mc.Close() })
	m := newRecordingMetrics()
	return NewCalibrator(repository.NewCacheCalibrationStore(mc, 0), m, nil, 0), m
}

func TestCalibratorOutcomeIdempotence(t *testing.T) {
	c, m := newTestCalibrator(t)
	ctx := context.Background()
	ev := models.CalibrationEvent{
		DecisionID: "D7",
		Symbol:     "EURUSD",
		Timeframe:  "M1",
		Action:     models.ActionBuy,
		Confidence: 0.7,
		IsWin:      true,
		CloseTime:  time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
	}

	applied, err := c.Update(ctx, ev)
	require.NoError(t, err)
	require.True(t, applied)
	once, err := c.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)

	applied, err = c.Update(ctx, ev)
	require.NoError(t, err)
	assert.False(t, applied)
	twice, err := c.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)

	assert.Equal(t, 1, twice.Wins)
	assert.Equal(t, 1, twice.Total)
	assert.Equal(t, once.Wins, twice.Wins)
	assert.Equal(t, once.Total, twice.Total)
	assert.Equal(t, once.DriftFactor, twice.DriftFactor)
	assert.Equal(t, 1, m.calibrations)
}

func TestCalibratorConcurrentUpdatesPerKey(t *testing.T) {
	c, _ := newTestCalibrator(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(3))
	evs := make([]models.CalibrationEvent, 200)
	wins := 0
	for i := range evs {
		win := r.Intn(2) == 0
		if win {
			wins++
		}
		evs[i] = models.CalibrationEvent{
			DecisionID: fmt.Sprintf("d-%d", i),
			Symbol:     "BOOM1000",
			Timeframe:  "M1",
			Action:     models.ActionSell,
			Confidence: 0.8,
			IsWin:      win,
			CloseTime:  time.Date(2026, 4, 1, i%24, 0, 0, 0, time.UTC),
		}
	}

	var wg sync.WaitGroup
	for _, ev := range evs {
		wg.Add(2)
		ev := ev
		go func() { defer wg.Done(); _, _ = c.Update(ctx, ev) }()
		go func() { defer wg.Done(); _, _ = c.Update(ctx, ev) }()
	}
	wg.Wait()

	row, err := c.Row(ctx, "BOOM1000", "M1")
	require.NoError(t, err)
	assert.Equal(t, len(evs), row.Total)
	assert.Equal(t, wins, row.Wins)
}

func TestCalibratorRecomputeThresholds(t *testing.T) {
	c, _ := newTestCalibrator(t)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		_, err := c.Update(ctx, models.CalibrationEvent{
			DecisionID: fmt.Sprintf("x-%d", i),
			Symbol:     "EURUSD",
			Timeframe:  "M5",
			Action:     models.ActionBuy,
			Confidence: 0.52,
			IsWin:      i%2 == 0,
			CloseTime:  time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	changed, err := c.RecomputeThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	row, err := c.Row(ctx, "EURUSD", "M5")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, row.DriftFactor, 1e-12)

	changed, err = c.RecomputeThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestCalibratorRejectsAnonymousEvent(t *testing.T) {
	c, _ := newTestCalibrator(t)
	_, err := c.Update(context.Background(), models.CalibrationEvent{Symbol: "EURUSD"})
	assert.True(t, models.IsKind(err, models.KindBadInput))
}

type memQueue struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (q *memQueue) Publish(_ context.Context, jobType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, payload)
	return nil
}

func TestCalibrationJobAppliesQueuedEvent(t *testing.T) {
	c, _ := newTestCalibrator(t)
	q := &memQueue{}
	c.SetQueue(q)
	ctx := context.Background()
	ev := models.CalibrationEvent{DecisionID: "q1", Symbol: "EURUSD", Timeframe: "M1", Action: models.ActionBuy, Confidence: 0.9, IsWin: true, CloseTime: time.Now().UTC()}

	require.NoError(t, c.Submit(ctx, ev))
	row, _ := c.Row(ctx, "EURUSD", "M1")
	assert.Equal(t, 0, row.Total)
	require.Len(t, q.msgs, 1)

	job := NewCalibrationJob(c)
	raw, err := json.Marshal(q.msgs[0])
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, raw))
	row, _ = c.Row(ctx, "EURUSD", "M1")
	assert.Equal(t, 1, row.Total)
	assert.Equal(t, 1, row.Wins)
}
