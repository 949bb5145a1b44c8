package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/services/features"
	"TradeLoop/internal/services/ml"
	"TradeLoop/pkg/cache"
	applogger "TradeLoop/pkg/logger"
)

// TrainerConfig drives the retraining cadence.
type TrainerConfig struct {
	Interval       time.Duration
	MinSamples     int
	Slots          []models.SlotKey
	Horizon        int
	Epsilon        map[models.Category]float64
	CacheTTL       time.Duration
	FetchTimeout   time.Duration
	HistoryCandles int
	SampleLimit    int
	Workers        int
	TestFraction   float64
	Seed           int64
}

func (c TrainerConfig) withDefaults() TrainerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 100
	}
	if c.Horizon <= 0 {
		c.Horizon = features.DefaultHorizon
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.HistoryCandles <= 0 {
		c.HistoryCandles = 2000
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 5000
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		c.TestFraction = 0.2
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

func (c TrainerConfig) epsilon(cat models.Category) float64 {
	if eps, ok := c.Epsilon[cat]; ok && eps > 0 {
		return eps
	}
	return models.DefaultLabelEpsilon(cat)
}

// TrainResult reports one slot's training attempt.
type TrainResult struct {
	Symbol       string             `json:"symbol"`
	Timeframe    string             `json:"timeframe"`
	Trained      bool               `json:"trained"`
	SkipReason   string             `json:"skip_reason,omitempty"`
	Family       models.ModelFamily `json:"family,omitempty"`
	Category     models.Category    `json:"category"`
	Accuracy     float64            `json:"accuracy"`
	F1           float64            `json:"f1_score"`
	Samples      int                `json:"training_samples"`
	TrainingDate time.Time          `json:"training_date,omitempty"`
}

// Trainer refits per-slot classifiers from labeled samples.
type Trainer struct {
	cfg      TrainerConfig
	source   SampleSource
	candles  domrepo.CandleStore
	store    domrepo.ModelStore
	registry *ml.Registry
	cache    cache.Service
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastTrain map[models.SlotKey]time.Time
	slotLocks keyedMutex
}

// NewTrainer wires a trainer. source, candles and sampleCache may be nil.
func NewTrainer(
	cfg TrainerConfig,
	source SampleSource,
	candles domrepo.CandleStore,
	store domrepo.ModelStore,
	registry *ml.Registry,
	sampleCache cache.Service,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
) *Trainer {
	if registry == nil {
		registry = ml.NewRegistry(nil, nil, cfg.Seed)
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &Trainer{
		cfg:       cfg.withDefaults(),
		source:    source,
		candles:   candles,
		store:     store,
		registry:  registry,
		cache:     sampleCache,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		lastTrain: make(map[models.SlotKey]time.Time),
	}
}

// Interval returns the configured cadence.
func (t *Trainer) Interval() time.Duration { return t.cfg.Interval }

// RunCycle trains every configured slot that is due. It returns the number
// of slots replaced; a cycle with none replaced reports an error.
func (t *Trainer) RunCycle(ctx context.Context) (int, error) {
	due := make([]models.SlotKey, 0, len(t.cfg.Slots))
	for _, k := range t.cfg.Slots {
		if t.isDue(k) {
			due = append(due, k)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	start := t.now()
	sem := make(chan struct{}, t.cfg.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	updated := 0
	for _, k := range due {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(k models.SlotKey) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := t.TrainSlot(ctx, k.Symbol, k.Timeframe)
			if err != nil {
				t.logger.Error("training failed",
					applogger.String("symbol", k.Symbol), applogger.String("timeframe", k.Timeframe), applogger.Error(err))
				return
			}
			if res.Trained {
				mu.Lock()
				updated++
				mu.Unlock()
			}
		}(k)
	}
	wg.Wait()

	if t.metrics != nil {
		t.metrics.RecordLatency("training_cycle", t.now().Sub(start).Seconds())
	}
	t.logger.Info("training cycle finished", applogger.Int("due", len(due)), applogger.Int("updated", updated))
	if updated == 0 {
		return 0, fmt.Errorf("training cycle updated no slot of %d due", len(due))
	}
	return updated, nil
}

func (t *Trainer) isDue(k models.SlotKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastTrain[k]
	return !ok || t.now().Sub(last) >= t.cfg.Interval
}

func (t *Trainer) markTrained(k models.SlotKey, at time.Time) {
	t.mu.Lock()
	t.lastTrain[k] = at
	t.mu.Unlock()
}

// LastTrained returns when the slot was last replaced by this trainer.
func (t *Trainer) LastTrained(symbol, timeframe string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.lastTrain[models.SlotKey{Symbol: symbol, Timeframe: timeframe}]
	return at, ok
}

// TrainSlot fetches samples for one key and trains it. Skips are reported in
// the result, not as errors.
func (t *Trainer) TrainSlot(ctx context.Context, symbol, timeframe string) (*TrainResult, error) {
	key := models.SlotKey{Symbol: symbol, Timeframe: timeframe}
	unlock := t.slotLocks.Lock(key.String())
	defer unlock()

	samples, err := t.samples(ctx, key)
	if err != nil {
		if models.IsKind(err, models.KindTimeout) {
			return t.skip(key, models.KindTimeout), nil
		}
		return nil, err
	}
	return t.train(ctx, key, samples)
}

// TrainOnCandles labels an ingested candle history synthetically and
// trains the slot from it, bypassing the sample cache.
func (t *Trainer) TrainOnCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) (*TrainResult, error) {
	key := models.SlotKey{Symbol: symbol, Timeframe: timeframe}
	unlock := t.slotLocks.Lock(key.String())
	defer unlock()

	cat := models.CategoryFor(symbol)
	samples := features.NewBuilder(cat).SyntheticSamples(candles, t.cfg.Horizon, t.cfg.epsilon(cat))
	t.invalidate(ctx, key)
	return t.train(ctx, key, samples)
}

func sampleCacheKey(k models.SlotKey) string {
	return "trainer:samples:" + k.Symbol + ":" + k.Timeframe
}

func (t *Trainer) invalidate(ctx context.Context, k models.SlotKey) {
	if t.cache != nil {
		_ = t.cache.Delete(ctx, sampleCacheKey(k))
	}
}

// samples returns the cached snapshot for k or loads a fresh one. Outcome
// samples come first; synthetic candle labels fill in below the minimum.
func (t *Trainer) samples(ctx context.Context, k models.SlotKey) ([]models.TrainingSample, error) {
	if t.cache != nil && t.cfg.CacheTTL > 0 {
		var cached []models.TrainingSample
		if err := t.cache.Get(ctx, sampleCacheKey(k), &cached); err == nil {
			return cached, nil
		}
	}

	fctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	var out []models.TrainingSample
	if t.source != nil {
		got, err := t.source.FetchTrainingSamples(fctx, k.Symbol, k.Timeframe, t.cfg.SampleLimit)
		if err != nil {
			if errors.Is(fctx.Err(), context.DeadlineExceeded) {
				return nil, models.NewError(models.KindTimeout, "fetch training samples", err)
			}
			t.logger.Warn("feedback samples unavailable, using candles",
				applogger.String("symbol", k.Symbol), applogger.Error(err))
		}
		out = got
	}

	if len(out) < t.cfg.MinSamples && t.candles != nil {
		candles, err := t.candles.GetLatestNCandles(fctx, k.Symbol, t.cfg.HistoryCandles, domrepo.NormalizeTimeframe(k.Timeframe))
		if err != nil {
			if errors.Is(fctx.Err(), context.DeadlineExceeded) {
				return nil, models.NewError(models.KindTimeout, "fetch candles", err)
			}
			t.logger.Warn("candle history unavailable",
				applogger.String("symbol", k.Symbol), applogger.Error(err))
		} else {
			cat := models.CategoryFor(k.Symbol)
			out = mergeSamples(out, features.NewBuilder(cat).SyntheticSamples(candles, t.cfg.Horizon, t.cfg.epsilon(cat)))
		}
	}

	if t.cache != nil && t.cfg.CacheTTL > 0 && len(out) > 0 {
		if err := t.cache.Set(ctx, sampleCacheKey(k), out, t.cfg.CacheTTL); err != nil {
			t.logger.Debug("sample cache write failed", applogger.Error(err))
		}
	}
	return out, nil
}

// mergeSamples adds synthetic rows at timestamps the feedback rows do not
// cover and sorts the result most recent first.
func mergeSamples(feedback, synthetic []models.TrainingSample) []models.TrainingSample {
	seen := make(map[int64]bool, len(feedback))
	out := append([]models.TrainingSample(nil), feedback...)
	for _, s := range feedback {
		seen[s.Timestamp] = true
	}
	for _, s := range synthetic {
		if !seen[s.Timestamp] {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func (t *Trainer) skip(k models.SlotKey, reason models.ErrorKind) *TrainResult {
	t.logger.Info("training skipped",
		applogger.String("symbol", k.Symbol), applogger.String("timeframe", k.Timeframe),
		applogger.String("reason", string(reason)))
	if t.metrics != nil {
		t.metrics.RecordTrainingSkip(k.Symbol, k.Timeframe, string(reason))
	}
	return &TrainResult{
		Symbol:     k.Symbol,
		Timeframe:  k.Timeframe,
		SkipReason: string(reason),
		Category:   models.CategoryFor(k.Symbol),
	}
}

func (t *Trainer) train(ctx context.Context, k models.SlotKey, samples []models.TrainingSample) (*TrainResult, error) {
	cat := models.CategoryFor(k.Symbol)
	schema := features.NewBuilder(cat).Schema()

	X := make([][]float64, 0, len(samples))
	y := make([]int, 0, len(samples))
	for _, s := range samples {
		cls := s.Label.ClassIndex()
		if cls < 0 || !s.Features.SameSchema(schema) {
			continue
		}
		X = append(X, s.Features.Values)
		y = append(y, cls)
	}
	if len(X) < t.cfg.MinSamples {
		return t.skip(k, models.KindInsufficientData), nil
	}
	if ml.DistinctLabels(y) < 2 {
		return t.skip(k, models.KindLabelDegenerate), nil
	}

	trainIdx, testIdx := ml.StratifiedSplit(y, t.cfg.TestFraction, t.cfg.Seed)
	scaler := ml.FitScaler(ml.Rows(X, trainIdx))
	Xtr := scaler.TransformAll(ml.Rows(X, trainIdx))
	ytr := ml.Labels(y, trainIdx)

	choice := t.registry.Resolve(cat)
	clf := t.registry.New(choice)
	if err := clf.Fit(Xtr, ytr); err != nil {
		return nil, models.NewError(models.KindInternal, "fit "+string(choice.Family), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evalIdx := testIdx
	if len(evalIdx) == 0 {
		evalIdx = trainIdx
	}
	yte := ml.Labels(y, evalIdx)
	pred := clf.Predict(scaler.TransformAll(ml.Rows(X, evalIdx)))
	acc := ml.Accuracy(yte, pred)
	f1 := ml.WeightedF1(yte, pred, ml.NumClasses)

	importance := map[string]float64{}
	for i, v := range clf.FeatureImportances() {
		if i < len(schema) {
			importance[schema[i]] = v
		}
	}
	trainedAt := t.now().UTC()
	slot := &models.ModelSlot{
		Symbol:        k.Symbol,
		Timeframe:     k.Timeframe,
		Family:        choice.Family,
		Model:         clf,
		Scaler:        scaler,
		FeatureSchema: schema,
		Category:      cat,
		Metrics: models.SlotMetrics{
			Accuracy:          acc,
			F1:                f1,
			FeatureImportance: importance,
			TrainingSamples:   len(X),
			TrainingDate:      trainedAt,
		},
	}
	if err := t.store.Put(ctx, slot); err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "persist model slot", err)
	}
	t.markTrained(k, trainedAt)
	if t.metrics != nil {
		t.metrics.RecordTraining(k.Symbol, k.Timeframe, string(choice.Family), acc, f1, len(X))
	}
	t.logger.Info("slot trained",
		applogger.String("symbol", k.Symbol), applogger.String("timeframe", k.Timeframe),
		applogger.String("family", string(choice.Family)), applogger.Float64("accuracy", acc),
		applogger.Float64("f1", f1), applogger.Int("samples", len(X)))

	return &TrainResult{
		Symbol:       k.Symbol,
		Timeframe:    k.Timeframe,
		Trained:      true,
		Family:       choice.Family,
		Category:     cat,
		Accuracy:     acc,
		F1:           f1,
		Samples:      len(X),
		TrainingDate: trainedAt,
	}, nil
}
