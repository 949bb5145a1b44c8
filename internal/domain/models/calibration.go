package models

import (
	"sort"
	"time"
)

// Drift factor bounds and the neutral starting point.
const (
	DriftFactorMin     = 0.5
	DriftFactorMax     = 0.95
	DriftFactorInitial = 0.6
)

// WinStat counts wins over a population of closed trades.
type WinStat struct {
	Wins  int `json:"wins"`
	Total int `json:"total"`
}

// WinRate returns wins/total, or 0.5 when no trades were recorded.
func (w WinStat) WinRate() float64 {
	if w.Total <= 0 {
		return 0.5
	}
	return float64(w.Wins) / float64(w.Total)
}

// HourPatterns lists UTC hours with the best and worst realized win rates.
type HourPatterns struct {
	BestHours  []int `json:"best_hours"`
	WorstHours []int `json:"worst_hours"`
}

// IsBest reports whether h is among the best hours.
func (p HourPatterns) IsBest(h int) bool { return containsInt(p.BestHours, h) }

// IsWorst reports whether h is among the worst hours.
func (p HourPatterns) IsWorst(h int) bool { return containsInt(p.WorstHours, h) }

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// ConfidenceOutcome pairs a realized decision confidence with its result.
type ConfidenceOutcome struct {
	Confidence float64 `json:"confidence"`
	Win        bool    `json:"win"`
}

// CalibrationRow is the per-(symbol, timeframe) running statistics record.
type CalibrationRow struct {
	Symbol          string              `json:"symbol"`
	Timeframe       string              `json:"timeframe"`
	Wins            int                 `json:"wins"`
	Total           int                 `json:"total"`
	DriftFactor     float64             `json:"drift_factor"`
	DecisionWeights map[Action]float64  `json:"decision_weights"`
	HourPatterns    HourPatterns        `json:"hour_patterns"`
	ActionStats     map[Action]WinStat  `json:"action_stats"`
	HourStats       [24]WinStat         `json:"hour_stats"`
	Recent          []ConfidenceOutcome `json:"recent"`
	LastUpdated     time.Time           `json:"last_updated"`
}

// NewCalibrationRow returns a neutral row for key.
func NewCalibrationRow(symbol, timeframe string) *CalibrationRow {
	return &CalibrationRow{
		Symbol:      symbol,
		Timeframe:   timeframe,
		DriftFactor: DriftFactorInitial,
		DecisionWeights: map[Action]float64{
			ActionBuy: 1.0, ActionSell: 1.0, ActionHold: 1.0,
		},
		ActionStats: map[Action]WinStat{},
	}
}

// WinRate returns the overall win rate with the neutral 0.5 default.
func (r *CalibrationRow) WinRate() float64 {
	return WinStat{Wins: r.Wins, Total: r.Total}.WinRate()
}

// Weight returns the decision weight for a, defaulting to 1.
func (r *CalibrationRow) Weight(a Action) float64 {
	if r == nil || r.DecisionWeights == nil {
		return 1.0
	}
	if w, ok := r.DecisionWeights[a]; ok {
		return w
	}
	return 1.0
}

// Clone returns a deep copy safe to hand to readers.
func (r *CalibrationRow) Clone() *CalibrationRow {
	if r == nil {
		return nil
	}
	out := *r
	out.DecisionWeights = make(map[Action]float64, len(r.DecisionWeights))
	for k, v := range r.DecisionWeights {
		out.DecisionWeights[k] = v
	}
	out.ActionStats = make(map[Action]WinStat, len(r.ActionStats))
	for k, v := range r.ActionStats {
		out.ActionStats[k] = v
	}
	out.HourPatterns = HourPatterns{
		BestHours:  append([]int(nil), r.HourPatterns.BestHours...),
		WorstHours: append([]int(nil), r.HourPatterns.WorstHours...),
	}
	out.Recent = append([]ConfidenceOutcome(nil), r.Recent...)
	return &out
}

// SortedHours returns a sorted copy of hours.
func SortedHours(hours []int) []int {
	out := append([]int(nil), hours...)
	sort.Ints(out)
	return out
}

// CalibrationEvent is the input of one calibration update.
type CalibrationEvent struct {
	DecisionID string    `json:"decision_id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	IsWin      bool      `json:"is_win"`
	CloseTime  time.Time `json:"close_time"`
}
