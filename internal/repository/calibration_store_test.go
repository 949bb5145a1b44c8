package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/pkg/cache"
)

func TestCalibrationStoreNeutralRow(t *testing.T) {
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	defer mc.Close()
	s := NewCacheCalibrationStore(mc, 0)

	row, err := s.Get(context.Background(), "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 0, row.Total)
	assert.Equal(t, models.DriftFactorInitial, row.DriftFactor)
	assert.Equal(t, 1.0, row.Weight(models.ActionBuy))
}

func TestCalibrationStoreSaveListRoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	defer mc.Close()
	s := NewCacheCalibrationStore(mc, 0)
	ctx := context.Background()

	row := models.NewCalibrationRow("EURUSD", "M1")
	row.Wins, row.Total = 3, 5
	row.DriftFactor = 0.72
	row.DecisionWeights[models.ActionBuy] = 1.6
	row.HourStats[14] = models.WinStat{Wins: 2, Total: 3}
	row.HourPatterns = models.HourPatterns{BestHours: []int{14}, WorstHours: []int{3}}
	row.LastUpdated = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, row))
	require.NoError(t, s.Save(ctx, models.NewCalibrationRow("BOOM1000", "M5")))

	got, err := s.Get(ctx, "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, row.Wins, got.Wins)
	assert.Equal(t, row.Total, got.Total)
	assert.Equal(t, row.DriftFactor, got.DriftFactor)
	assert.Equal(t, 1.6, got.Weight(models.ActionBuy))
	assert.Equal(t, row.HourStats, got.HourStats)
	assert.True(t, got.HourPatterns.IsBest(14))
	assert.True(t, row.LastUpdated.Equal(got.LastUpdated))

	rows, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BOOM1000", rows[0].Symbol)
	assert.Equal(t, "M5", rows[0].Timeframe)
	assert.Equal(t, "EURUSD", rows[1].Symbol)
}

func TestCalibrationStoreMarkProcessed(t *testing.T) {
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	defer mc.Close()
	s := NewCacheCalibrationStore(mc, 0)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "D7")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkProcessed(ctx, "D7")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, s.Unmark(ctx, "D7"))
	first, err = s.MarkProcessed(ctx, "D7")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestCalibrationStoreRejectsEmptySymbol(t *testing.T) {
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	defer mc.Close()
	s := NewCacheCalibrationStore(mc, 0)
	err := s.Save(context.Background(), &models.CalibrationRow{})
	assert.True(t, models.IsKind(err, models.KindBadInput))
}
