package repository

import (
	"strings"
	"time"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	W1:  7 * 24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return M1 }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
// Lower-case and minute-style aliases ("1m", "5m", "1h") are accepted.
func NormalizeTimeframe(s string) Timeframe {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	switch s {
	case "1M":
		return M1
	case "5M":
		return M5
	case "15M":
		return M15
	case "30M":
		return M30
	case "1H":
		return H1
	case "4H":
		return H4
	case "1D":
		return D1
	case "1W":
		return W1
	}
	return DefaultTimeframe()
}

// Duration returns the bar length, or zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

func (tf Timeframe) String() string { return string(tf) }
