package modelstore

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
	"TradeLoop/internal/services/ml"
)

func trainedSlot(t *testing.T, symbol string, family models.ModelFamily) *models.ModelSlot {
	t.Helper()
	r := rand.New(rand.NewSource(9))
	X := make([][]float64, 150)
	y := make([]int, 150)
	for i := range X {
		X[i] = []float64{r.Float64()*2 - 1, r.Float64()}
		switch {
		case X[i][0] < -0.3:
			y[i] = 0
		case X[i][0] > 0.3:
			y[i] = 2
		default:
			y[i] = 1
		}
	}
	scaler := ml.FitScaler(X)
	var c models.Classifier
	switch family {
	case models.FamilyGradientBoosted:
		c = ml.NewGradientBoosting(true)
	case models.FamilyLogistic:
		c = ml.NewLogistic()
	default:
		c = ml.NewRandomForest(1)
	}
	require.NoError(t, c.Fit(scaler.TransformAll(X), y))
	return &models.ModelSlot{
		Symbol:        symbol,
		Timeframe:     "M1",
		Family:        family,
		Model:         c,
		Scaler:        scaler,
		FeatureSchema: []string{"a", "b"},
		Category:      models.CategoryFor(symbol),
		Metrics: models.SlotMetrics{
			Accuracy:          0.8,
			F1:                0.75,
			FeatureImportance: map[string]float64{"a": 0.9, "b": 0.1},
			TrainingSamples:   150,
			TrainingDate:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestPutGetAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	slot := trainedSlot(t, "EURUSD", models.FamilyGradientBoosted)
	require.NoError(t, store.Put(context.Background(), slot))

	got, ok := store.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, slot.FeatureSchema, got.FeatureSchema)

	for _, name := range []string{"EURUSD_M1_gradient_boosted.blob", "EURUSD_M1_scaler.blob", "EURUSD_M1_metrics.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), tmpSuffix), "leftover tmp file %s", e.Name())
	}

	fresh, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	n, err := fresh.LoadFromDisk(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	back, ok := fresh.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, models.FamilyGradientBoosted, back.Family)
	assert.Equal(t, slot.FeatureSchema, back.FeatureSchema)
	assert.Equal(t, 150, back.Metrics.TrainingSamples)
	assert.Equal(t, models.CategoryForex, back.Category)

	for _, x := range [][]float64{{0.9, 0.1}, {-0.8, 0.5}, {0.05, 0.7}} {
		assert.Equal(t, slot.Predict(x).Proba, back.Predict(x).Proba)
	}
}

func TestMetricsFileSchema(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), trainedSlot(t, "BTCUSD", models.FamilyRandomForest)))

	raw, err := os.ReadFile(filepath.Join(dir, "BTCUSD_M1_metrics.json"))
	require.NoError(t, err)
	for _, key := range []string{`"symbol"`, `"timeframe"`, `"training_date"`, `"category"`, `"best_model"`,
		`"metrics"`, `"f1_score"`, `"feature_importance"`, `"features_used"`, `"training_samples"`} {
		assert.Contains(t, string(raw), key)
	}
}

func TestReplaceSwitchesFamilyAndRemovesStaleBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, trainedSlot(t, "EURUSD", models.FamilyRandomForest)))
	require.NoError(t, store.Put(ctx, trainedSlot(t, "EURUSD", models.FamilyLogistic)))

	got, ok := store.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, models.FamilyLogistic, got.Family)
	_, err = os.Stat(filepath.Join(dir, "EURUSD_M1_random_forest.blob"))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, store.List(), 1)
}

func TestReadersNeverSeePartialSlot(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	slots := []*models.ModelSlot{
		trainedSlot(t, "EURUSD", models.FamilyRandomForest),
		trainedSlot(t, "EURUSD", models.FamilyLogistic),
	}
	require.NoError(t, store.Put(ctx, slots[0]))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, ok := store.Get("EURUSD", "M1")
				if !ok || s.Model == nil || s.Scaler == nil || len(s.FeatureSchema) != 2 {
					t.Errorf("observed incomplete slot")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(ctx, slots[i%2]))
	}
	close(stop)
	wg.Wait()
}

func TestFailedReplaceKeepsPreviousSlot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	old := trainedSlot(t, "EURUSD", models.FamilyRandomForest)
	old.Scaler.(*ml.StandardScaler).Mean[0] = 2.5
	require.NoError(t, store.Put(ctx, old))

	// A directory in place of the metrics tmp file makes the last write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "EURUSD_M1_metrics.json"+tmpSuffix), 0o755))
	next := trainedSlot(t, "EURUSD", models.FamilyLogistic)
	next.Scaler.(*ml.StandardScaler).Mean[0] = 1002.5
	require.Error(t, store.Put(ctx, next))

	got, ok := store.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, models.FamilyRandomForest, got.Family)

	fresh, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	n, err := fresh.LoadFromDisk(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	back, ok := fresh.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, models.FamilyRandomForest, back.Family)
	assert.Equal(t, 2.5, back.Scaler.(*ml.StandardScaler).Mean[0])

	_, err = os.Stat(filepath.Join(dir, "EURUSD_M1_logistic.blob"))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), tmpSuffix), "leftover staged file %s", e.Name())
	}
}

func TestReloadRollsForwardCommittedReplace(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	old := trainedSlot(t, "EURUSD", models.FamilyRandomForest)
	old.Scaler.(*ml.StandardScaler).Mean[0] = 2.5
	require.NoError(t, store.Put(ctx, old))

	// Stage a replacement and its commit file, stopping before the renames.
	next := trainedSlot(t, "EURUSD", models.FamilyLogistic)
	next.Scaler.(*ml.StandardScaler).Mean[0] = 1002.5
	blob, err := ml.MarshalModel(next.Model)
	require.NoError(t, err)
	sblob, err := ml.MarshalScaler(next.Scaler.(*ml.StandardScaler))
	require.NoError(t, err)
	meta, err := json.Marshal(metricsFor(next))
	require.NoError(t, err)
	rec := commitRecord{Family: models.FamilyLogistic}
	for name, data := range map[string][]byte{
		"EURUSD_M1_logistic.blob": blob,
		"EURUSD_M1_scaler.blob":   sblob,
		"EURUSD_M1_metrics.json":  meta,
	} {
		require.NoError(t, store.writeTmp(name, data))
		rec.Files = append(rec.Files, name)
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, store.writeAtomic("EURUSD_M1"+commitSuffix, raw))

	fresh, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	n, err := fresh.LoadFromDisk(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	back, ok := fresh.Get("EURUSD", "M1")
	require.True(t, ok)
	assert.Equal(t, models.FamilyLogistic, back.Family)
	assert.Equal(t, 1002.5, back.Scaler.(*ml.StandardScaler).Mean[0])

	for _, name := range []string{"EURUSD_M1" + commitSuffix, "EURUSD_M1_random_forest.blob"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
}

func TestLoadSkipsBrokenSlots(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "XAUUSD_H1_metrics.json"), []byte(`{"best_model":"random_forest"}`), 0o644))
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	n, err := store.LoadFromDisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "Volatility-75-Index_M5", BaseName("Volatility 75 Index", "M5"))
	assert.Equal(t, "EUR-USD_H1", BaseName("EUR/USD", "H1"))
}
