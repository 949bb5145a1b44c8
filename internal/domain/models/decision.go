package models

import "time"

// Action is a trade directive.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Actions is the fixed class order used by classifiers: sell, hold, buy.
var Actions = []Action{ActionSell, ActionHold, ActionBuy}

// ClassIndex returns the classifier column for a, or -1.
func (a Action) ClassIndex() int {
	for i, x := range Actions {
		if x == a {
			return i
		}
	}
	return -1
}

// IsValid reports whether a is buy, sell or hold.
func (a Action) IsValid() bool { return a.ClassIndex() >= 0 }

// Opposite returns the other side for buy/sell and hold for hold.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	default:
		return ActionHold
	}
}

// Reason codes attached to decisions.
const (
	ReasonMLBelowThreshold = "ml_below_threshold"
	ReasonMLTimeout        = "ml_timeout"
	ReasonModelAbsent      = "model_absent"
	ReasonNoConsensus      = "no_consensus"
	ReasonFused            = "fused"
	ReasonTechnical        = "technical"
)

// ModelUsedTechnical marks decisions produced without a model slot.
const ModelUsedTechnical = "technical"

// ChannelScore is the output of one fusion source channel.
type ChannelScore struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Available  bool    `json:"available"`
}

// OriginatingScores preserves the per-channel inputs of a decision verbatim.
type OriginatingScores struct {
	ML        ChannelScore `json:"ml"`
	Technical ChannelScore `json:"technical"`
	Trend     ChannelScore `json:"trend"`
	Context   ChannelScore `json:"context"`
	BuyScore  float64      `json:"buy_score"`
	SellScore float64      `json:"sell_score"`
}

// Decision is an immutable directive emitted by the fusion engine.
type Decision struct {
	ID         string            `json:"decision_id"`
	Symbol     string            `json:"symbol"`
	Timeframe  string            `json:"timeframe"`
	T          int64             `json:"t"`
	Action     Action            `json:"action"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason"`
	Features   *FeatureVector    `json:"feature_snapshot,omitempty"`
	Scores     OriginatingScores `json:"originating_scores"`
	StopLoss   *float64          `json:"stop_loss,omitempty"`
	TakeProfit *float64          `json:"take_profit,omitempty"`
	ModelUsed  string            `json:"model_used"`
	Price      float64           `json:"price"`
}

// Key returns the (symbol, timeframe) slot key of the decision.
func (d *Decision) Key() SlotKey { return SlotKey{Symbol: d.Symbol, Timeframe: d.Timeframe} }

// Time returns the decision timestamp in UTC.
func (d *Decision) Time() time.Time { return time.Unix(d.T, 0).UTC() }

// TradeOutcome is the realized result of a closed trade.
type TradeOutcome struct {
	DecisionID string    `json:"decision_id"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	IsWin      bool      `json:"is_win"`
	Side       Action    `json:"side"`
}

// JournalEntry is a decision joined with its outcome, if any.
type JournalEntry struct {
	Decision Decision      `json:"decision"`
	Outcome  *TradeOutcome `json:"outcome,omitempty"`
}

// SlotKey identifies a model or calibration slot.
type SlotKey struct {
	Symbol    string `json:"symbol" yaml:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`
}

func (k SlotKey) String() string { return k.Symbol + "_" + k.Timeframe }
