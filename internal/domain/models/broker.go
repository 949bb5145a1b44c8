package models

import (
	"errors"
	"time"
)

// SymbolInfo is the broker's static description of an instrument.
type SymbolInfo struct {
	Symbol            string  `json:"symbol"`
	Point             float64 `json:"point"`
	Digits            int     `json:"digits"`
	TradeContractSize float64 `json:"trade_contract_size"`
	VolumeMin         float64 `json:"volume_min"`
	VolumeStep        float64 `json:"volume_step"`
	VolumeMax         float64 `json:"volume_max"`
}

// DefaultDigits is used when the broker cannot describe a symbol.
const DefaultDigits = 5

// Tick is a top-of-book quote.
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// Mid returns (bid+ask)/2.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// OrderType is the broker order kind.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// OrderRequest is a command sent to the broker gateway.
type OrderRequest struct {
	Symbol  string    `json:"symbol"`
	Side    Action    `json:"side"`
	Volume  float64   `json:"volume"`
	Price   *float64  `json:"price,omitempty"`
	SL      *float64  `json:"sl,omitempty"`
	TP      *float64  `json:"tp,omitempty"`
	Type    OrderType `json:"type"`
	MagicID int64     `json:"magic_id"`
	Comment string    `json:"comment"`
}

// Order statuses reported by the gateway.
const (
	OrderStatusFilled      = "filled"
	OrderStatusPlaced      = "placed"
	OrderStatusAlreadyOpen = "already_open"
)

// OrderResult is the broker's answer to a placed order.
type OrderResult struct {
	OrderID   string   `json:"order_id"`
	Status    string   `json:"status"`
	FillPrice *float64 `json:"fill_price,omitempty"`
	// Retried is set when the order went through only after dropping stops.
	Retried bool `json:"retried,omitempty"`
}

// PositionClosed is emitted by the broker when a position is closed.
type PositionClosed struct {
	Symbol     string    `json:"symbol"`
	DecisionID string    `json:"decision_id"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	Side       Action    `json:"side"`
}

// Outcome converts the event to a trade outcome. Profit > 0 is a win.
func (p PositionClosed) Outcome() TradeOutcome {
	open := p.OpenTime
	if open.IsZero() {
		open = p.CloseTime
	}
	return TradeOutcome{
		DecisionID: p.DecisionID,
		OpenTime:   open,
		CloseTime:  p.CloseTime,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		Profit:     p.Profit,
		IsWin:      p.Profit > 0,
		Side:       p.Side,
	}
}

// Broker rejection codes with dedicated handling.
const (
	RejectInvalidStops  = "invalid_stops"
	RejectPositionOpen  = "position_already_open"
	RejectInvalidPrice  = "invalid_price"
	RejectNoMoney       = "insufficient_margin"
	RejectUnknownSymbol = "unknown_symbol"
)

// Rejection is the broker's reason for refusing a command.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return r.Code
	}
	return r.Code + ": " + r.Message
}

// AsRejection extracts the broker's rejection reason from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
