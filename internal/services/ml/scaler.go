package ml

import "math"

// minStd replaces degenerate feature deviations.
const minStd = 1e-10

// StandardScaler z-scores each column with statistics fitted on training rows.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes column means and population deviations. Columns with a
// deviation below 1e-10 get std 1 so they pass through centered.
func FitScaler(X [][]float64) *StandardScaler {
	if len(X) == 0 {
		return &StandardScaler{}
	}
	nf := len(X[0])
	s := &StandardScaler{Mean: make([]float64, nf), Std: make([]float64, nf)}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < minStd {
			s.Std[j] = 1.0
		}
	}
	return s
}

// Transform scales one row. Rows wider than the fitted width pass extra columns through.
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Std[j]
			continue
		}
		out[j] = v
	}
	return out
}

// TransformAll scales every row.
func (s *StandardScaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
