package models

import "time"

// Candle represents an OHLC bar with tick volume. T is unix seconds.
type Candle struct {
	T          int64   `json:"t"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

// Time returns the bar open time in UTC.
func (c Candle) Time() time.Time {
	return time.Unix(c.T, 0).UTC()
}

// Valid reports whether the bar respects high >= max(open, close) and low <= min(open, close).
func (c Candle) Valid() bool {
	if c.Open <= 0 || c.Close <= 0 || c.High <= 0 || c.Low <= 0 {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	return c.TickVolume >= 0
}

// FeatureVector is an ordered mapping feature_name -> value.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// Get returns the value for name, or def when absent.
func (v *FeatureVector) Get(name string, def float64) float64 {
	if v == nil {
		return def
	}
	for i, n := range v.Names {
		if n == name && i < len(v.Values) {
			return v.Values[i]
		}
	}
	return def
}

// SameSchema reports whether the vector carries exactly the given ordered keys.
func (v *FeatureVector) SameSchema(schema []string) bool {
	if v == nil || len(v.Names) != len(schema) {
		return false
	}
	for i := range schema {
		if v.Names[i] != schema[i] {
			return false
		}
	}
	return true
}

// TrainingSample is one labeled row for the trainer.
type TrainingSample struct {
	Features  FeatureVector `json:"features"`
	Label     Action        `json:"label"`
	Timestamp int64         `json:"timestamp"`
	Source    string        `json:"source"`
}

// Training sample sources.
const (
	SourceFeedback  = "feedback"
	SourceSynthetic = "synthetic"
)
