package usecase

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/features"
)

type memModelStore struct {
	mu    sync.Mutex
	slots map[models.SlotKey]*models.ModelSlot
	puts  int
}

func newMemModelStore() *memModelStore {
	return &memModelStore{slots: map[models.SlotKey]*models.ModelSlot{}}
}

func (s *memModelStore) Get(symbol, timeframe string) (*models.ModelSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[models.SlotKey{Symbol: symbol, Timeframe: timeframe}]
	return slot, ok
}

func (s *memModelStore) Put(_ context.Context, slot *models.ModelSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.Key()] = slot
	s.puts++
	return nil
}

func (s *memModelStore) List() []models.SlotKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SlotKey, 0, len(s.slots))
	for k := range s.slots {
		out = append(out, k)
	}
	return out
}

func (s *memModelStore) LoadFromDisk(context.Context) (int, error) { return 0, nil }

type staticSamples struct {
	samples []models.TrainingSample
	calls   int
}

func (s *staticSamples) FetchTrainingSamples(_ context.Context, _, _ string, limit int) ([]models.TrainingSample, error) {
	s.calls++
	if limit > 0 && len(s.samples) > limit {
		return s.samples[:limit], nil
	}
	return s.samples, nil
}

// separableSamples labels rows by the sign of their first feature.
func separableSamples(n int, label func(i int, x float64) models.Action) []models.TrainingSample {
	schema := features.NewBuilder(models.CategoryForex).Schema()
	r := rand.New(rand.NewSource(7))
	out := make([]models.TrainingSample, n)
	for i := range out {
		vals := make([]float64, len(schema))
		for j := range vals {
			vals[j] = r.NormFloat64()
		}
		out[i] = models.TrainingSample{
			Features:  models.FeatureVector{Names: schema, Values: vals},
			Label:     label(i, vals[0]),
			Timestamp: int64(1_700_000_000 - i*60),
			Source:    models.SourceFeedback,
		}
	}
	return out
}

func threeWay(_ int, x float64) models.Action {
	switch {
	case x > 0.4:
		return models.ActionBuy
	case x < -0.4:
		return models.ActionSell
	}
	return models.ActionHold
}

func newTestTrainer(src SampleSource, store *memModelStore, m *recordingMetrics) *Trainer {
	return NewTrainer(TrainerConfig{
		Interval:   time.Hour,
		MinSamples: 100,
		Slots:      []models.SlotKey{{Symbol: "EURUSD", Timeframe: "H1"}},
	}, src, nil, store, nil, nil, m, nil)
}

func TestTrainerSkipsBelowMinSamples(t *testing.T) {
	store := newMemModelStore()
	m := newRecordingMetrics()
	tr := newTestTrainer(&staticSamples{samples: separableSamples(99, threeWay)}, store, m)

	res, err := tr.TrainSlot(context.Background(), "EURUSD", "H1")
	require.NoError(t, err)
	assert.False(t, res.Trained)
	assert.Equal(t, string(models.KindInsufficientData), res.SkipReason)
	assert.Equal(t, string(models.KindInsufficientData), m.skip("EURUSD_H1"))
	assert.Zero(t, store.puts)
}

func TestTrainerSkipsDegenerateLabels(t *testing.T) {
	store := newMemModelStore()
	m := newRecordingMetrics()
	allBuy := func(int, float64) models.Action { return models.ActionBuy }
	tr := newTestTrainer(&staticSamples{samples: separableSamples(500, allBuy)}, store, m)

	res, err := tr.TrainSlot(context.Background(), "EURUSD", "H1")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindLabelDegenerate), res.SkipReason)
	assert.Equal(t, string(models.KindLabelDegenerate), m.skip("EURUSD_H1"))
	assert.Zero(t, store.puts)
}

func TestTrainerIgnoresForeignSchemaRows(t *testing.T) {
	store := newMemModelStore()
	m := newRecordingMetrics()
	samples := separableSamples(150, threeWay)
	for i := 0; i < 60; i++ {
		samples[i].Features.Names = append([]string{"legacy"}, samples[i].Features.Names[1:]...)
	}
	tr := newTestTrainer(&staticSamples{samples: samples}, store, m)

	res, err := tr.TrainSlot(context.Background(), "EURUSD", "H1")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindInsufficientData), res.SkipReason)
}

func TestTrainerReplacesSlot(t *testing.T) {
	store := newMemModelStore()
	m := newRecordingMetrics()
	tr := newTestTrainer(&staticSamples{samples: separableSamples(300, threeWay)}, store, m)

	res, err := tr.TrainSlot(context.Background(), "EURUSD", "H1")
	require.NoError(t, err)
	require.True(t, res.Trained, res.SkipReason)
	assert.Equal(t, 300, res.Samples)
	assert.Equal(t, models.CategoryForex, res.Category)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)

	slot, ok := store.Get("EURUSD", "H1")
	require.True(t, ok)
	assert.Equal(t, features.NewBuilder(models.CategoryForex).Schema(), slot.FeatureSchema)
	assert.Equal(t, res.Family, slot.Family)
	assert.Len(t, slot.Metrics.FeatureImportance, len(slot.FeatureSchema))
	require.Len(t, m.trainings, 1)

	p := slot.Predict(make([]float64, len(slot.FeatureSchema)))
	assert.True(t, p.Action.IsValid())
	assert.InDelta(t, 1.0, p.Proba[0]+p.Proba[1]+p.Proba[2], 1e-6)

	_, ok = tr.LastTrained("EURUSD", "H1")
	assert.True(t, ok)
}

func TestTrainerRunCycleHonorsInterval(t *testing.T) {
	store := newMemModelStore()
	src := &staticSamples{samples: separableSamples(300, threeWay)}
	tr := newTestTrainer(src, store, newRecordingMetrics())

	n, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, store.puts)
}

func TestTrainerRunCycleReportsNoUpdate(t *testing.T) {
	tr := newTestTrainer(&staticSamples{samples: separableSamples(10, threeWay)}, newMemModelStore(), newRecordingMetrics())

	n, err := tr.RunCycle(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
}
