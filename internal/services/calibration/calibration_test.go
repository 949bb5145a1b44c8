package calibration

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"
)

func events(n int, seed int64) []models.CalibrationEvent {
	r := rand.New(rand.NewSource(seed))
	actions := []models.Action{models.ActionBuy, models.ActionSell}
	out := make([]models.CalibrationEvent, n)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = models.CalibrationEvent{
			Symbol:     "EURUSD",
			Timeframe:  "M1",
			Action:     actions[r.Intn(2)],
			Confidence: 0.3 + r.Float64()*0.7,
			IsWin:      r.Float64() < 0.55,
			CloseTime:  base.Add(time.Duration(r.Intn(24*30)) * time.Hour),
		}
	}
	return out
}

func TestApplyKeepsInvariants(t *testing.T) {
	var row *models.CalibrationRow
	for _, ev := range events(2000, 1) {
		row = Apply(row, ev, DefaultEta)
		if row.Wins < 0 || row.Wins > row.Total {
			t.Fatalf("wins %d total %d", row.Wins, row.Total)
		}
		if row.DriftFactor < models.DriftFactorMin || row.DriftFactor > models.DriftFactorMax {
			t.Fatalf("drift factor %v out of bounds", row.DriftFactor)
		}
		for a, w := range row.DecisionWeights {
			if w < 0.5 || w > 2 {
				t.Fatalf("weight[%s]=%v out of bounds", a, w)
			}
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	row := models.NewCalibrationRow("EURUSD", "M1")
	before := row.Clone()
	_ = Apply(row, events(1, 2)[0], DefaultEta)
	if !reflect.DeepEqual(before, row) {
		t.Fatalf("input row mutated")
	}
}

func TestDriftFactorUpdate(t *testing.T) {
	row := models.NewCalibrationRow("EURUSD", "M1")
	win := Apply(row, models.CalibrationEvent{Action: models.ActionBuy, Confidence: 0.9, IsWin: true}, DefaultEta)
	if math.Abs(win.DriftFactor-0.6*(1-0.001)) > 1e-12 {
		t.Fatalf("win drift = %v", win.DriftFactor)
	}
	loss := Apply(row, models.CalibrationEvent{Action: models.ActionBuy, Confidence: 0.9, IsWin: false}, DefaultEta)
	if math.Abs(loss.DriftFactor-0.6*(1+0.001)) > 1e-12 {
		t.Fatalf("loss drift = %v", loss.DriftFactor)
	}
	low := Apply(row, models.CalibrationEvent{Action: models.ActionBuy, Confidence: 0.4, IsWin: false}, DefaultEta)
	if low.DriftFactor != 0.6 {
		t.Fatalf("confidence below drift must not move it: %v", low.DriftFactor)
	}
}

func TestOrderIndependence(t *testing.T) {
	evs := events(1000, 3)
	var a *models.CalibrationRow
	for _, ev := range evs {
		a = Apply(a, ev, DefaultEta)
	}
	for seed := int64(10); seed < 15; seed++ {
		perm := rand.New(rand.NewSource(seed)).Perm(len(evs))
		var b *models.CalibrationRow
		for _, i := range perm {
			b = Apply(b, evs[i], DefaultEta)
		}
		if a.Wins != b.Wins || a.Total != b.Total {
			t.Fatalf("wins/total depend on order")
		}
		if !reflect.DeepEqual(a.DecisionWeights, b.DecisionWeights) {
			t.Fatalf("weights depend on order: %v vs %v", a.DecisionWeights, b.DecisionWeights)
		}
		if !reflect.DeepEqual(a.HourPatterns, b.HourPatterns) {
			t.Fatalf("hour patterns depend on order")
		}
	}
}

func TestHourPatterns(t *testing.T) {
	var stats [24]models.WinStat
	stats[9] = models.WinStat{Wins: 5, Total: 5}
	stats[10] = models.WinStat{Wins: 4, Total: 5}
	stats[11] = models.WinStat{Wins: 3, Total: 5}
	stats[12] = models.WinStat{Wins: 2, Total: 5}
	stats[13] = models.WinStat{Wins: 0, Total: 5}
	stats[14] = models.WinStat{Wins: 4, Total: 4}
	p := HourPatterns(stats)
	if !reflect.DeepEqual(p.BestHours, []int{9, 10, 11}) {
		t.Fatalf("best = %v", p.BestHours)
	}
	if !reflect.DeepEqual(p.WorstHours, []int{12, 13}) {
		t.Fatalf("worst = %v", p.WorstHours)
	}
}

func TestHourPatternsPoolNeighboringHours(t *testing.T) {
	var stats [24]models.WinStat
	// Hour 5 wins alone among losing neighbors.
	stats[3] = models.WinStat{Wins: 0, Total: 10}
	stats[4] = models.WinStat{Wins: 0, Total: 10}
	stats[5] = models.WinStat{Wins: 5, Total: 5}
	stats[6] = models.WinStat{Wins: 0, Total: 10}
	stats[7] = models.WinStat{Wins: 0, Total: 10}
	// Hour 20 sits among winning hours too thin to rank on their own.
	for _, h := range []int{18, 19, 21, 22} {
		stats[h] = models.WinStat{Wins: 4, Total: 4}
	}
	stats[20] = models.WinStat{Wins: 4, Total: 5}

	p := HourPatterns(stats)
	if !reflect.DeepEqual(p.BestHours, []int{3, 7, 20}) {
		t.Fatalf("best = %v", p.BestHours)
	}
	if !reflect.DeepEqual(p.WorstHours, []int{4, 5, 6}) {
		t.Fatalf("worst = %v", p.WorstHours)
	}
}

func TestHourPatternsWrapMidnight(t *testing.T) {
	var stats [24]models.WinStat
	stats[23] = models.WinStat{Wins: 5, Total: 5}
	stats[0] = models.WinStat{Wins: 0, Total: 5}
	stats[1] = models.WinStat{Wins: 0, Total: 5}
	if got := bucketRate(stats, 0); got != 5.0/15.0 {
		t.Fatalf("bucket rate at 0 = %v", got)
	}
	if got := bucketRate(stats, 23); got != 5.0/15.0 {
		t.Fatalf("bucket rate at 23 = %v", got)
	}
}

func TestOptimalThreshold(t *testing.T) {
	if _, ok := OptimalThreshold(nil); ok {
		t.Fatalf("empty history has no threshold")
	}
	recent := []models.ConfidenceOutcome{
		{Confidence: 0.52, Win: false},
		{Confidence: 0.58, Win: false},
		{Confidence: 0.72, Win: true},
		{Confidence: 0.81, Win: true},
	}
	theta, ok := OptimalThreshold(recent)
	if !ok || theta != 0.50 {
		t.Fatalf("theta = %v, want 0.50 (ties keep the lowest)", theta)
	}
	if _, ok := OptimalThreshold([]models.ConfidenceOutcome{{Confidence: 0.2}}); ok {
		t.Fatalf("no trade above the grid must not yield a threshold")
	}
}

func TestApplyThresholdBounds(t *testing.T) {
	row := models.NewCalibrationRow("EURUSD", "M1")
	row.Recent = []models.ConfidenceOutcome{{Confidence: 0.95, Win: true}}
	out, ok := ApplyThreshold(row)
	if !ok || out.DriftFactor < models.DriftFactorMin || out.DriftFactor > models.DriftFactorMax {
		t.Fatalf("drift = %v ok=%v", out.DriftFactor, ok)
	}
}
