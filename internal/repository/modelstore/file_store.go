// Package modelstore persists model slots as blob/scaler/metrics file triples
// and serves them to readers from an immutable in-memory snapshot.
package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/internal/services/ml"
	applogger "TradeLoop/pkg/logger"
)

const (
	metricsSuffix = "_metrics.json"
	scalerSuffix  = "_scaler.blob"
	blobSuffix    = ".blob"
	tmpSuffix     = ".tmp"
	commitSuffix  = ".commit"
)

type snapshot map[models.SlotKey]*models.ModelSlot

// FileStore implements domrepo.ModelStore on a local directory.
type FileStore struct {
	dir    string
	logger *applogger.Logger

	snap   atomic.Pointer[snapshot]
	swapMu sync.Mutex
	keyMu  sync.Map // models.SlotKey -> *sync.Mutex
}

var _ domrepo.ModelStore = (*FileStore)(nil)

func NewFileStore(dir string, logger *applogger.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("models dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	s := &FileStore{dir: dir, logger: logger}
	empty := snapshot{}
	s.snap.Store(&empty)
	return s, nil
}

// BaseName is the common file prefix of a slot: {symbol}_{timeframe}.
func BaseName(symbol, timeframe string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '-'
	}, strings.TrimSpace(symbol))
	return clean + "_" + timeframe
}

// Get never blocks on writers and never returns a partially replaced slot.
func (s *FileStore) Get(symbol, timeframe string) (*models.ModelSlot, bool) {
	slot, ok := (*s.snap.Load())[models.SlotKey{Symbol: symbol, Timeframe: timeframe}]
	return slot, ok
}

func (s *FileStore) List() []models.SlotKey {
	cur := *s.snap.Load()
	keys := make([]models.SlotKey, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	return keys
}

func (s *FileStore) lockKey(k models.SlotKey) func() {
	v, _ := s.keyMu.LoadOrStore(k, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Put stages blob, scaler and metrics as fsynced .tmp files, records the
// pending renames in a commit file, then renames the three into place and
// publishes the slot to readers. A crash before the commit file lands leaves
// the previous slot intact; a crash after it is rolled forward on reload.
func (s *FileStore) Put(ctx context.Context, slot *models.ModelSlot) error {
	if slot == nil || slot.Model == nil {
		return models.Errorf(models.KindBadInput, "slot has no model")
	}
	scaler, ok := slot.Scaler.(*ml.StandardScaler)
	if !ok {
		return models.Errorf(models.KindBadInput, "unsupported scaler %T", slot.Scaler)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := slot.Key()
	unlock := s.lockKey(key)
	defer unlock()

	blob, err := ml.MarshalModel(slot.Model)
	if err != nil {
		return err
	}
	sblob, err := ml.MarshalScaler(scaler)
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(metricsFor(slot), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	base := BaseName(slot.Symbol, slot.Timeframe)
	if err := s.rollForward(base); err != nil {
		return err
	}

	staged := []struct {
		name string
		data []byte
	}{
		{base + "_" + string(slot.Family) + blobSuffix, blob},
		{base + scalerSuffix, sblob},
		{base + metricsSuffix, meta},
	}
	rec := commitRecord{Family: slot.Family}
	for _, f := range staged {
		if err := s.writeTmp(f.name, f.data); err != nil {
			s.discard(rec.Files)
			return err
		}
		rec.Files = append(rec.Files, f.name)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		s.discard(rec.Files)
		return fmt.Errorf("marshal commit: %w", err)
	}
	if err := s.writeAtomic(base+commitSuffix, raw); err != nil {
		s.discard(rec.Files)
		return err
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}
	if err := s.apply(base, rec); err != nil {
		return err
	}
	s.publish(slot)

	s.logger.Info("model slot replaced",
		applogger.String("symbol", slot.Symbol),
		applogger.String("timeframe", slot.Timeframe),
		applogger.String("family", string(slot.Family)),
		applogger.Int("samples", slot.Metrics.TrainingSamples))
	return nil
}

// commitRecord lists the staged files of one slot replacement.
type commitRecord struct {
	Family models.ModelFamily `json:"family"`
	Files  []string           `json:"files"`
}

// apply renames every staged file over its final name. Files already renamed
// by an earlier attempt are skipped, so apply can be repeated.
func (s *FileStore) apply(base string, rec commitRecord) error {
	for _, name := range rec.Files {
		path := filepath.Join(s.dir, name)
		if err := os.Rename(path+tmpSuffix, path); err != nil && !os.IsNotExist(err) {
			return models.NewError(models.KindStoreUnavailable, "rename "+name, err)
		}
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}
	s.removeStaleBlobs(base, rec.Family)
	if err := os.Remove(filepath.Join(s.dir, base+commitSuffix)); err != nil && !os.IsNotExist(err) {
		return models.NewError(models.KindStoreUnavailable, "remove commit", err)
	}
	return syncDir(s.dir)
}

// rollForward completes a replacement whose commit file survived a crash.
func (s *FileStore) rollForward(base string) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, base+commitSuffix))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return models.NewError(models.KindStoreUnavailable, "read commit", err)
	}
	var rec commitRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.NewError(models.KindStoreUnavailable, "decode commit "+base, err)
	}
	return s.apply(base, rec)
}

func (s *FileStore) discard(names []string) {
	for _, name := range names {
		_ = os.Remove(filepath.Join(s.dir, name+tmpSuffix))
	}
}

func (s *FileStore) publish(slot *models.ModelSlot) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	cur := *s.snap.Load()
	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[slot.Key()] = slot
	s.snap.Store(&next)
}

// LoadFromDisk scans {base}_metrics.json files and loads every complete slot.
// Broken slots are logged and skipped.
func (s *FileStore) LoadFromDisk(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, models.NewError(models.KindStoreUnavailable, "read models dir", err)
	}
	s.recover(entries)
	if entries, err = os.ReadDir(s.dir); err != nil {
		return 0, models.NewError(models.KindStoreUnavailable, "read models dir", err)
	}
	loaded := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metricsSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, metricsSuffix)
		slot, err := s.loadSlot(base)
		if err != nil {
			s.logger.Warn("skip model slot", applogger.String("base", base), applogger.Error(err))
			continue
		}
		s.publish(slot)
		loaded++
	}
	s.logger.Info("model store loaded", applogger.String("dir", s.dir), applogger.Int("slots", loaded))
	return loaded, nil
}

// recover rolls forward committed replacements and drops staged files that
// never got a commit.
func (s *FileStore) recover(entries []os.DirEntry) {
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, commitSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, commitSuffix)
		if err := s.rollForward(base); err != nil {
			s.logger.Warn("roll forward model slot", applogger.String("base", base), applogger.Error(err))
		}
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("remove staged file", applogger.String("name", name), applogger.Error(err))
		}
	}
}

func (s *FileStore) loadSlot(base string) (*models.ModelSlot, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, base+metricsSuffix))
	if err != nil {
		return nil, err
	}
	var mf models.MetricsFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	if !mf.BestModel.IsValid() {
		return nil, fmt.Errorf("unknown best_model %q", mf.BestModel)
	}
	blob, err := os.ReadFile(filepath.Join(s.dir, base+"_"+string(mf.BestModel)+blobSuffix))
	if err != nil {
		return nil, err
	}
	model, err := ml.UnmarshalModel(blob)
	if err != nil {
		return nil, err
	}
	sblob, err := os.ReadFile(filepath.Join(s.dir, base+scalerSuffix))
	if err != nil {
		return nil, err
	}
	scaler, err := ml.UnmarshalScaler(sblob)
	if err != nil {
		return nil, err
	}
	stat := mf.Metrics[mf.BestModel]
	return &models.ModelSlot{
		Symbol:        mf.Symbol,
		Timeframe:     mf.Timeframe,
		Family:        mf.BestModel,
		Model:         model,
		Scaler:        scaler,
		FeatureSchema: mf.FeaturesUsed,
		Category:      mf.Category,
		Metrics: models.SlotMetrics{
			Accuracy:          stat.Accuracy,
			F1:                stat.F1,
			FeatureImportance: stat.FeatureImportance,
			TrainingSamples:   mf.TrainingSamples,
			TrainingDate:      mf.TrainingDate,
		},
	}, nil
}

func metricsFor(slot *models.ModelSlot) models.MetricsFile {
	date := slot.Metrics.TrainingDate
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return models.MetricsFile{
		Symbol:       slot.Symbol,
		Timeframe:    slot.Timeframe,
		TrainingDate: date,
		Category:     slot.Category,
		BestModel:    slot.Family,
		Metrics: map[models.ModelFamily]models.FamilyStat{
			slot.Family: {
				Accuracy:          slot.Metrics.Accuracy,
				F1:                slot.Metrics.F1,
				FeatureImportance: slot.Metrics.FeatureImportance,
			},
		},
		FeaturesUsed:    slot.FeatureSchema,
		TrainingSamples: slot.Metrics.TrainingSamples,
	}
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	if err := s.writeTmp(name, data); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	if err := os.Rename(path+tmpSuffix, path); err != nil {
		_ = os.Remove(path + tmpSuffix)
		return models.NewError(models.KindStoreUnavailable, "rename "+name, err)
	}
	return nil
}

// writeTmp writes and fsyncs {name}.tmp.
func (s *FileStore) writeTmp(name string, data []byte) (err error) {
	tmp := filepath.Join(s.dir, name+tmpSuffix)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return models.NewError(models.KindStoreUnavailable, "open "+tmp, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return models.NewError(models.KindStoreUnavailable, "write "+tmp, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return models.NewError(models.KindStoreUnavailable, "fsync "+tmp, err)
	}
	if err = f.Close(); err != nil {
		return models.NewError(models.KindStoreUnavailable, "close "+tmp, err)
	}
	return nil
}

func (s *FileStore) removeStaleBlobs(base string, keep models.ModelFamily) {
	for _, fam := range []models.ModelFamily{models.FamilyRandomForest, models.FamilyGradientBoosted, models.FamilyLogistic} {
		if fam == keep {
			continue
		}
		p := filepath.Join(s.dir, base+"_"+string(fam)+blobSuffix)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove stale model blob", applogger.String("path", p), applogger.Error(err))
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return models.NewError(models.KindStoreUnavailable, "open dir", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return models.NewError(models.KindStoreUnavailable, "fsync dir", err)
	}
	return nil
}
