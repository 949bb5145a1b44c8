package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/repository"
	"TradeLoop/internal/services/features"
	"TradeLoop/pkg/cache"
)

type recorderFixture struct {
	rec       *FeedbackRecorder
	journal   *repository.MemoryJournal
	spill     *repository.SpillJournal
	cal       *Calibrator
	publisher *recordingPublisher
	metrics   *recordingMetrics
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	spill, err := repository.NewSpillJournal(t.TempDir())
	require.NoError(t, err)
	cal, _ := newTestCalibrator(t)
	f := &recorderFixture{
		journal:   repository.NewMemoryJournal(),
		spill:     spill,
		cal:       cal,
		publisher: &recordingPublisher{},
		metrics:   newRecordingMetrics(),
	}
	f.rec = NewFeedbackRecorder(f.journal, f.spill, f.cal, f.publisher, nil, f.metrics, nil, FeedbackConfig{})
	return f
}

func testDecision(id string, t int64, action models.Action) *models.Decision {
	snap := features.NewBuilder(models.CategoryForex).Sentinel(map[string]float64{"rsi_14": 41})
	return &models.Decision{
		ID:         id,
		Symbol:     "EURUSD",
		Timeframe:  "M1",
		T:          t,
		Action:     action,
		Confidence: 0.7,
		Features:   snap,
		Price:      1.1,
		ModelUsed:  models.ModelUsedTechnical,
	}
}

func testOutcome(id string, win bool) *models.TradeOutcome {
	closeAt := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return &models.TradeOutcome{
		DecisionID: id,
		OpenTime:   closeAt.Add(-time.Hour),
		CloseTime:  closeAt,
		EntryPrice: 1.1,
		ExitPrice:  1.11,
		Profit:     12.0,
		IsWin:      win,
		Side:       models.ActionBuy,
	}
}

func TestRecordDecisionAssignsID(t *testing.T) {
	f := newRecorderFixture(t)
	d := testDecision("", 1_700_000_000, models.ActionBuy)

	id, err := f.rec.RecordDecision(context.Background(), d)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, d.ID)

	got, err := f.rec.Decision(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, got.Action)
	require.Len(t, f.publisher.decisions, 1)
}

func TestRecordOutcomeTwiceCountsOnce(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	_, err := f.rec.RecordDecision(ctx, testDecision("D7", 1_700_000_000, models.ActionBuy))
	require.NoError(t, err)

	inserted, err := f.rec.RecordOutcome(ctx, testOutcome("D7", true))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = f.rec.RecordOutcome(ctx, testOutcome("D7", true))
	require.NoError(t, err)
	assert.False(t, inserted)

	row, err := f.cal.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Wins)
	assert.Equal(t, 1, row.Total)

	require.Len(t, f.publisher.samples, 1)
	assert.Equal(t, models.ActionBuy, f.publisher.samples[0].Label)
	assert.Equal(t, models.SourceFeedback, f.publisher.samples[0].Source)
}

type flakyCalibrationStore struct {
	*repository.CacheCalibrationStore
	failSaves int
}

func (s *flakyCalibrationStore) Save(ctx context.Context, row *models.CalibrationRow) error {
	if s.failSaves > 0 {
		s.failSaves--
		return models.Errorf(models.KindStoreUnavailable, "calibration store down")
	}
	return s.CacheCalibrationStore.Save(ctx, row)
}

func TestCalibrationFailureIsSpilledAndReplayed(t *testing.T) {
	mc := cache.NewMemoryCache(cache.MemoryConfig{})
	t.Cleanup(func() { _ = mc.Close() })
	store := &flakyCalibrationStore{CacheCalibrationStore: repository.NewCacheCalibrationStore(mc, 0), failSaves: 1}
	cal := NewCalibrator(store, nil, nil, 0)
	spill, err := repository.NewSpillJournal(t.TempDir())
	require.NoError(t, err)
	rec := NewFeedbackRecorder(repository.NewMemoryJournal(), spill, cal, nil, nil, nil, nil, FeedbackConfig{})
	ctx := context.Background()

	_, err = rec.RecordDecision(ctx, testDecision("D7", 1_700_000_000, models.ActionBuy))
	require.NoError(t, err)
	inserted, err := rec.RecordOutcome(ctx, testOutcome("D7", true))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = rec.RecordOutcome(ctx, testOutcome("D7", true))
	require.NoError(t, err)
	assert.False(t, inserted)

	row, err := cal.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 0, row.Total)

	pending, err := spill.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, repository.SpillCalibration, pending[0].Kind)

	n, err := rec.ReplaySpill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	row, err = cal.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Wins)
	assert.Equal(t, 1, row.Total)

	n, err = rec.ReplaySpill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecordOutcomeUnknownDecision(t *testing.T) {
	f := newRecorderFixture(t)
	_, err := f.rec.RecordOutcome(context.Background(), testOutcome("D9", true))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindBadInput))
}

func TestRecordOutcomeValidation(t *testing.T) {
	f := newRecorderFixture(t)
	o := testOutcome("D1", true)
	o.Side = models.ActionHold
	_, err := f.rec.RecordOutcome(context.Background(), o)
	assert.True(t, models.IsKind(err, models.KindBadInput))
}

func TestJournalOutageSpillsAndReplays(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	f.journal.SetFailing(true)

	id, err := f.rec.RecordDecision(ctx, testDecision("D3", 1_700_000_000, models.ActionBuy))
	require.NoError(t, err)
	inserted, err := f.rec.RecordOutcome(ctx, testOutcome(id, false))
	require.NoError(t, err)
	assert.True(t, inserted)

	pending, err := f.spill.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, repository.SpillDecision, pending[0].Kind)
	assert.Equal(t, repository.SpillOutcome, pending[1].Kind)
	assert.Contains(t, f.metrics.errors, string(models.KindStoreUnavailable))

	n, err := f.rec.ReplaySpill(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	f.journal.SetFailing(false)
	n, err = f.rec.ReplaySpill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err = f.spill.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, err := f.journal.Entries(ctx, "EURUSD", "M1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Outcome)
	assert.False(t, entries[0].Outcome.IsWin)
}

func TestFetchTrainingSamplesOrderAndSchema(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	old := testDecision("A", 1_700_000_000, models.ActionBuy)
	recent := testDecision("B", 1_700_000_600, models.ActionSell)
	foreign := testDecision("C", 1_700_001_200, models.ActionBuy)
	foreign.Features = &models.FeatureVector{Names: []string{"legacy"}, Values: []float64{1}}
	open := testDecision("D", 1_700_001_800, models.ActionBuy)
	for _, d := range []*models.Decision{old, recent, foreign, open} {
		_, err := f.rec.RecordDecision(ctx, d)
		require.NoError(t, err)
	}

	_, err := f.rec.RecordOutcome(ctx, testOutcome("A", true))
	require.NoError(t, err)
	sell := testOutcome("B", false)
	sell.Side = models.ActionSell
	_, err = f.rec.RecordOutcome(ctx, sell)
	require.NoError(t, err)
	foreignOutcome := testOutcome("C", true)
	_, err = f.rec.RecordOutcome(ctx, foreignOutcome)
	require.NoError(t, err)

	samples, err := f.rec.FetchTrainingSamples(ctx, "EURUSD", "M1", 100)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1_700_000_600), samples[0].Timestamp)
	assert.Equal(t, models.ActionBuy, samples[0].Label)
	assert.Equal(t, int64(1_700_000_000), samples[1].Timestamp)
	assert.Equal(t, models.ActionBuy, samples[1].Label)
}

func TestProcessClosedRecordsOutcome(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	_, err := f.rec.RecordDecision(ctx, testDecision("D5", 1_700_000_000, models.ActionSell))
	require.NoError(t, err)

	err = f.rec.ProcessClosed(ctx, &models.PositionClosed{
		Symbol:     "EURUSD",
		DecisionID: "D5",
		EntryPrice: 1.1,
		ExitPrice:  1.09,
		Profit:     4,
		CloseTime:  time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC),
		Side:       models.ActionSell,
	})
	require.NoError(t, err)

	row, err := f.cal.Row(ctx, "EURUSD", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Wins)
}
