// Package calibration holds the pure update rules of the per-symbol
// calibration row.
package calibration

import (
	"math"
	"sort"

	"TradeLoop/internal/domain/models"
)

const (
	// DefaultEta is the online learning rate of the drift factor.
	DefaultEta = 0.01
	// MinHourTrades is the minimum trades for an hour to rank.
	MinHourTrades = 5
	// HourPicks is how many best and worst hours are kept.
	HourPicks = 3
	// HourWindow is the width of the circular bucket, centered on each hour,
	// that its win rate is pooled over.
	HourWindow = 5
	// RecentCap bounds the (confidence, win) history kept for threshold search.
	RecentCap = 1000
	weightMin = 0.5
	weightMax = 2.0
)

// ThresholdGrid is the candidate set for OptimalThreshold.
var ThresholdGrid = []float64{0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90}

// Apply folds one closed trade into row and returns the updated copy. The
// input row is left untouched.
func Apply(row *models.CalibrationRow, ev models.CalibrationEvent, eta float64) *models.CalibrationRow {
	var out *models.CalibrationRow
	if row == nil {
		out = models.NewCalibrationRow(ev.Symbol, ev.Timeframe)
	} else {
		out = row.Clone()
	}
	if out.ActionStats == nil {
		out.ActionStats = map[models.Action]models.WinStat{}
	}
	if out.DecisionWeights == nil {
		out.DecisionWeights = map[models.Action]float64{}
	}
	if out.DriftFactor == 0 {
		out.DriftFactor = models.DriftFactorInitial
	}

	out.Total++
	if ev.IsWin {
		out.Wins++
	}

	if ev.Confidence > out.DriftFactor {
		if ev.IsWin {
			out.DriftFactor *= 1 - eta*0.1
		} else {
			out.DriftFactor *= 1 + eta*0.1
		}
	}
	out.DriftFactor = clamp(out.DriftFactor, models.DriftFactorMin, models.DriftFactorMax)

	if ev.Action.IsValid() {
		st := out.ActionStats[ev.Action]
		st.Total++
		if ev.IsWin {
			st.Wins++
		}
		out.ActionStats[ev.Action] = st
		out.DecisionWeights[ev.Action] = clamp(st.WinRate()*2, weightMin, weightMax)
	}

	h := ev.CloseTime.UTC().Hour()
	out.HourStats[h].Total++
	if ev.IsWin {
		out.HourStats[h].Wins++
	}
	out.HourPatterns = HourPatterns(out.HourStats)

	out.Recent = append(out.Recent, models.ConfidenceOutcome{Confidence: ev.Confidence, Win: ev.IsWin})
	if len(out.Recent) > RecentCap {
		out.Recent = append([]models.ConfidenceOutcome(nil), out.Recent[len(out.Recent)-RecentCap:]...)
	}
	if !ev.CloseTime.IsZero() && ev.CloseTime.After(out.LastUpdated) {
		out.LastUpdated = ev.CloseTime.UTC()
	}
	return out
}

// HourPatterns ranks hours with at least MinHourTrades of their own by the
// win rate pooled over the HourWindow hours around them. The best are the
// top three; the worst are the bottom three not already best. Equal win
// rates order by hour.
func HourPatterns(stats [24]models.WinStat) models.HourPatterns {
	type hr struct {
		hour int
		rate float64
	}
	var qualified []hr
	for h, s := range stats {
		if s.Total >= MinHourTrades {
			qualified = append(qualified, hr{hour: h, rate: bucketRate(stats, h)})
		}
	}
	sort.SliceStable(qualified, func(i, j int) bool {
		if qualified[i].rate != qualified[j].rate {
			return qualified[i].rate > qualified[j].rate
		}
		return qualified[i].hour < qualified[j].hour
	})
	var p models.HourPatterns
	best := map[int]bool{}
	for i := 0; i < len(qualified) && i < HourPicks; i++ {
		p.BestHours = append(p.BestHours, qualified[i].hour)
		best[qualified[i].hour] = true
	}
	for i := len(qualified) - 1; i >= 0 && len(p.WorstHours) < HourPicks; i-- {
		if best[qualified[i].hour] {
			break
		}
		p.WorstHours = append(p.WorstHours, qualified[i].hour)
	}
	p.BestHours = models.SortedHours(p.BestHours)
	p.WorstHours = models.SortedHours(p.WorstHours)
	return p
}

func bucketRate(stats [24]models.WinStat, h int) float64 {
	var wins, total int
	for d := -HourWindow / 2; d <= HourWindow/2; d++ {
		s := stats[(h+d+24)%24]
		wins += s.Wins
		total += s.Total
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// OptimalThreshold scans ThresholdGrid and returns the θ maximizing
// win_rate_above(θ)·count_above(θ)/total. Ties keep the lower θ. ok is false
// when there is no history or no trade clears the lowest θ.
func OptimalThreshold(recent []models.ConfidenceOutcome) (float64, bool) {
	if len(recent) == 0 {
		return 0, false
	}
	total := float64(len(recent))
	bestTheta, bestScore := 0.0, -1.0
	for _, theta := range ThresholdGrid {
		above, wins := 0, 0
		for _, r := range recent {
			if r.Confidence >= theta {
				above++
				if r.Win {
					wins++
				}
			}
		}
		if above == 0 {
			continue
		}
		score := float64(wins) / float64(above) * float64(above) / total
		if score > bestScore+1e-12 {
			bestTheta, bestScore = theta, score
		}
	}
	if bestScore < 0 {
		return 0, false
	}
	return bestTheta, true
}

// ApplyThreshold persists the optimal threshold as the row's drift factor.
func ApplyThreshold(row *models.CalibrationRow) (*models.CalibrationRow, bool) {
	theta, ok := OptimalThreshold(row.Recent)
	if !ok {
		return row, false
	}
	out := row.Clone()
	out.DriftFactor = clamp(theta, models.DriftFactorMin, models.DriftFactorMax)
	return out, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
