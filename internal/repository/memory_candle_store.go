package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// MemoryCandleStore keeps bars per (symbol, timeframe), deduplicated by T.
type MemoryCandleStore struct {
	mu   sync.RWMutex
	bars map[string][]models.Candle
	// max bars kept per key; 0 is unbounded.
	max int
}

var _ domrepo.CandleStore = (*MemoryCandleStore)(nil)

func NewMemoryCandleStore(max int) *MemoryCandleStore {
	return &MemoryCandleStore{bars: make(map[string][]models.Candle), max: max}
}

func candleKey(symbol string, tf domrepo.Timeframe) string { return symbol + "_" + string(tf) }

func (s *MemoryCandleStore) StoreCandles(_ context.Context, symbol string, tf domrepo.Timeframe, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := candleKey(symbol, tf)
	byT := make(map[int64]models.Candle, len(s.bars[k])+len(candles))
	for _, c := range s.bars[k] {
		byT[c.T] = c
	}
	for _, c := range candles {
		if c.Valid() {
			byT[c.T] = c
		}
	}
	merged := make([]models.Candle, 0, len(byT))
	for _, c := range byT {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].T < merged[j].T })
	if s.max > 0 && len(merged) > s.max {
		merged = merged[len(merged)-s.max:]
	}
	s.bars[k] = merged
	return nil
}

func (s *MemoryCandleStore) GetLatestNCandles(_ context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.bars[candleKey(symbol, tf)]
	if n < len(bars) {
		bars = bars[len(bars)-n:]
	}
	return append([]models.Candle(nil), bars...), nil
}

func (s *MemoryCandleStore) GetCandles(_ context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Candle
	for _, c := range s.bars[candleKey(symbol, tf)] {
		if c.T >= from.Unix() && c.T <= to.Unix() {
			out = append(out, c)
		}
	}
	return out, nil
}
