package usecase

import (
	"context"
	"fmt"
	"sort"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"
)

// HistoryIngest stores uploaded candle history and trains the slot from it.
type HistoryIngest struct {
	store   domrepo.CandleStore
	trainer *Trainer
	logger  *applogger.Logger
}

func NewHistoryIngest(store domrepo.CandleStore, trainer *Trainer, logger *applogger.Logger) *HistoryIngest {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &HistoryIngest{store: store, trainer: trainer, logger: logger}
}

// Ingest validates and orders the candles, persists them and trains. The
// result carries metrics or the skip reason.
func (h *HistoryIngest) Ingest(ctx context.Context, req *models.HistoryRequest) (*TrainResult, error) {
	if req.Symbol == "" {
		return nil, models.Errorf(models.KindBadInput, "symbol is required")
	}
	tf := domrepo.Timeframe(req.Timeframe)
	if !domrepo.IsValidTimeframe(tf) {
		return nil, models.Errorf(models.KindBadInput, "unknown timeframe %q", req.Timeframe)
	}
	candles, err := cleanCandles(req.Data)
	if err != nil {
		return nil, err
	}

	if h.store != nil {
		if err := h.store.StoreCandles(ctx, req.Symbol, tf, candles); err != nil {
			h.logger.Warn("candle history not persisted",
				applogger.String("symbol", req.Symbol), applogger.Error(err))
		}
	}
	return h.trainer.TrainOnCandles(ctx, req.Symbol, req.Timeframe, candles)
}

// cleanCandles sorts by time, keeps the last bar per timestamp and rejects
// bars that break the OHLC envelope.
func cleanCandles(in []models.Candle) ([]models.Candle, error) {
	if len(in) == 0 {
		return nil, models.Errorf(models.KindBadInput, "data is empty")
	}
	out := make([]models.Candle, 0, len(in))
	for i, c := range in {
		if !c.Valid() {
			return nil, models.NewError(models.KindBadInput, fmt.Sprintf("invalid candle at index %d (t=%d)", i, c.T), nil)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })
	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].T == c.T {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, nil
}
