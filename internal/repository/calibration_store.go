package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	"TradeLoop/pkg/cache"
)

const (
	calibrationKeyPrefix = "calibration:row:"
	processedKeyPrefix   = "calibration:processed:"
)

// CacheCalibrationStore keeps calibration rows in a cache.Service (Redis or memory).
type CacheCalibrationStore struct {
	cache        cache.Service
	processedTTL time.Duration
}

var _ domrepo.CalibrationStore = (*CacheCalibrationStore)(nil)

// NewCacheCalibrationStore returns a store on top of svc. Rows never expire;
// processed markers live for processedTTL (0 keeps them forever).
func NewCacheCalibrationStore(svc cache.Service, processedTTL time.Duration) *CacheCalibrationStore {
	return &CacheCalibrationStore{cache: svc, processedTTL: processedTTL}
}

func calibrationKey(symbol, timeframe string) string {
	return calibrationKeyPrefix + symbol + ":" + timeframe
}

// Get returns the stored row or a neutral one when the key is new.
func (s *CacheCalibrationStore) Get(ctx context.Context, symbol, timeframe string) (*models.CalibrationRow, error) {
	var row models.CalibrationRow
	err := s.cache.Get(ctx, calibrationKey(symbol, timeframe), &row)
	if errors.Is(err, cache.ErrCacheMiss) {
		return models.NewCalibrationRow(symbol, timeframe), nil
	}
	if err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "read calibration row", err)
	}
	if row.DecisionWeights == nil {
		row.DecisionWeights = models.NewCalibrationRow(symbol, timeframe).DecisionWeights
	}
	if row.ActionStats == nil {
		row.ActionStats = map[models.Action]models.WinStat{}
	}
	return &row, nil
}

func (s *CacheCalibrationStore) Save(ctx context.Context, row *models.CalibrationRow) error {
	if row == nil || row.Symbol == "" {
		return models.Errorf(models.KindBadInput, "calibration row without symbol")
	}
	if err := s.cache.Set(ctx, calibrationKey(row.Symbol, row.Timeframe), row, 0); err != nil {
		return models.NewError(models.KindStoreUnavailable, "write calibration row", err)
	}
	return nil
}

// MarkProcessed sets the processed marker for decisionID and reports whether
// this call was the first to do so.
func (s *CacheCalibrationStore) MarkProcessed(ctx context.Context, decisionID string) (bool, error) {
	ok, err := s.cache.SetIfAbsent(ctx, processedKeyPrefix+decisionID, "1", s.processedTTL)
	if err != nil {
		return false, models.NewError(models.KindStoreUnavailable, "mark outcome processed", err)
	}
	return ok, nil
}

// Unmark clears a processed marker so a failed update can be replayed.
func (s *CacheCalibrationStore) Unmark(ctx context.Context, decisionID string) error {
	return s.cache.Delete(ctx, processedKeyPrefix+decisionID)
}

func (s *CacheCalibrationStore) List(ctx context.Context) ([]*models.CalibrationRow, error) {
	keys, err := s.cache.Keys(ctx, calibrationKeyPrefix+"*")
	if err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "list calibration rows", err)
	}
	out := make([]*models.CalibrationRow, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, calibrationKeyPrefix)
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			continue
		}
		row, err := s.Get(ctx, rest[:i], rest[i+1:])
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", rest, err)
		}
		out = append(out, row)
	}
	return out, nil
}
