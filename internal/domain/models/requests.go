package models

import "time"

// Requests for the HTTP endpoints. Defined in domain for consistency and reuse.

type DecisionRequest struct {
	Symbol    string   `json:"symbol" validate:"required"`
	Timeframe string   `json:"timeframe" default:"M1" validate:"oneof=M1 M5 M15 M30 H1 H4 D1 W1"`
	Bid       float64  `json:"bid" validate:"gt=0"`
	Ask       float64  `json:"ask" validate:"gt=0,gtefield=Bid"`
	RSI       *float64 `json:"rsi" validate:"omitempty,gte=0,lte=100"`
	EMAFastM1 *float64 `json:"ema_fast_m1" validate:"omitempty,gt=0"`
	EMASlowM1 *float64 `json:"ema_slow_m1" validate:"omitempty,gt=0"`
	EMAFastH1 *float64 `json:"ema_fast_h1" validate:"omitempty,gt=0"`
	EMASlowH1 *float64 `json:"ema_slow_h1" validate:"omitempty,gt=0"`
	ATR       *float64 `json:"atr" validate:"omitempty,gte=0"`
	SpikeMode bool     `json:"is_spike_mode"`
	DirRule   *int     `json:"dir_rule" validate:"omitempty,oneof=-1 0 1"`
	Candles   []Candle `json:"candles"`
	// Timestamp overrides the decision clock; unix seconds.
	Timestamp int64 `json:"timestamp" validate:"gte=0"`
}

type FeedbackRequest struct {
	DecisionID string    `json:"decision_id" validate:"required"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time" validate:"required"`
	EntryPrice float64   `json:"entry_price" validate:"gt=0"`
	ExitPrice  float64   `json:"exit_price" validate:"gt=0"`
	Profit     float64   `json:"profit"`
	IsWin      bool      `json:"is_win"`
	Side       string    `json:"side" validate:"oneof=buy sell"`
}

// Outcome maps the request to the domain record.
func (r *FeedbackRequest) Outcome() TradeOutcome {
	open := r.OpenTime
	if open.IsZero() {
		open = r.CloseTime
	}
	return TradeOutcome{
		DecisionID: r.DecisionID,
		OpenTime:   open.UTC(),
		CloseTime:  r.CloseTime.UTC(),
		EntryPrice: r.EntryPrice,
		ExitPrice:  r.ExitPrice,
		Profit:     r.Profit,
		IsWin:      r.IsWin,
		Side:       Action(r.Side),
	}
}

type HistoryRequest struct {
	Symbol    string   `json:"symbol" validate:"required"`
	Timeframe string   `json:"timeframe" default:"M1" validate:"oneof=M1 M5 M15 M30 H1 H4 D1 W1"`
	Data      []Candle `json:"data" validate:"required,min=1"`
}

type ExecuteRequest struct {
	DecisionID string  `json:"decision_id" validate:"required"`
	Volume     float64 `json:"volume" validate:"gt=0"`
	MagicID    int64   `json:"magic_id"`
	Comment    string  `json:"comment" default:"tradeloop"`
}

type ModelsRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}

type CalibrationRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"M1" validate:"oneof=M1 M5 M15 M30 H1 H4 D1 W1"`
}
