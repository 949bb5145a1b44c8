package indicators

import (
	"math"
	"math/rand"
	"testing"

	"TradeLoop/internal/domain/models"
)

func randomWalk(n int, seed int64) []models.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price = price * (1 + (r.Float64()-0.5)*0.02)
		hi := math.Max(open, price) * (1 + r.Float64()*0.003)
		lo := math.Min(open, price) * (1 - r.Float64()*0.003)
		out[i] = models.Candle{T: int64(i * 60), Open: open, High: hi, Low: lo, Close: price, TickVolume: 100 + r.Float64()*50}
	}
	return out
}

func TestSMAEqualsPlainAverage(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		candles := randomWalk(120, seed)
		closes := Closes(candles)
		for _, w := range []int{1, 5, 20, 50} {
			sma := SMA(closes, w)
			for i := w - 1; i < len(closes); i++ {
				sum := 0.0
				for j := i - w + 1; j <= i; j++ {
					sum += closes[j]
				}
				if d := math.Abs(sma[i] - sum/float64(w)); d > 1e-9 {
					t.Fatalf("seed %d w %d i %d: diff %v", seed, w, i, d)
				}
			}
			for i := 0; i < w-1; i++ {
				if !math.IsNaN(sma[i]) {
					t.Fatalf("expected NaN lead at %d", i)
				}
			}
		}
	}
}

func TestRSIBounds(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		rsi := RSI(Closes(randomWalk(200, seed)), 14)
		for i, v := range rsi {
			if math.IsNaN(v) {
				continue
			}
			if v < 0 || v > 100 {
				t.Fatalf("seed %d: rsi[%d]=%v out of range", seed, i, v)
			}
		}
	}
}

func TestRSIEdgeCases(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 1.1
	}
	if v := Last(RSI(flat, 14)); v != 50 {
		t.Fatalf("flat rsi = %v, want 50", v)
	}
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i + 1)
	}
	if v := Last(RSI(up, 14)); v != 100 {
		t.Fatalf("rising rsi = %v, want 100", v)
	}
}

func TestShortInputNeverPanics(t *testing.T) {
	short := randomWalk(3, 7)
	closes := Closes(short)
	checks := [][]float64{
		SMA(closes, 20), EMA(closes, 20), RSI(closes, 14),
		MACD(closes, 12, 26, 9).Hist, Bollinger(closes, 20, 2).Upper,
		ATR(short, 14), Stochastic(short, 5, 3, 3).D, Donchian(short, 20).Upper,
	}
	for i, s := range checks {
		if len(s) != len(closes) {
			t.Fatalf("check %d: len %d, want %d", i, len(s), len(closes))
		}
		for _, v := range s {
			if !math.IsNaN(v) {
				t.Fatalf("check %d: expected all NaN, got %v", i, v)
			}
		}
	}
	if SwingPoints(nil, 3) != nil {
		t.Fatalf("expected no swings on empty input")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6}
	ema := EMA(xs, 3)
	if ema[2] != 2 {
		t.Fatalf("seed = %v, want 2", ema[2])
	}
	want := 0.5*4 + 0.5*2
	if math.Abs(ema[3]-want) > 1e-12 {
		t.Fatalf("ema[3] = %v, want %v", ema[3], want)
	}
}

func TestMACDHistogramDefinedAfterWarmup(t *testing.T) {
	closes := Closes(randomWalk(100, 3))
	m := MACD(closes, 12, 26, 9)
	first := -1
	for i, v := range m.Hist {
		if !math.IsNaN(v) {
			first = i
			break
		}
	}
	if first != 25+8 {
		t.Fatalf("first hist index = %d, want 33", first)
	}
	if d := math.Abs(m.Hist[60] - (m.MACD[60] - m.Signal[60])); d > 1e-12 {
		t.Fatalf("hist mismatch %v", d)
	}
}

func TestStochasticFlatRange(t *testing.T) {
	c := make([]models.Candle, 12)
	for i := range c {
		c[i] = models.Candle{Open: 1, High: 1, Low: 1, Close: 1}
	}
	s := Stochastic(c, 5, 3, 3)
	if v := Last(s.D); v != 50 {
		t.Fatalf("flat %%D = %v, want 50", v)
	}
}

func TestBollingerSymmetric(t *testing.T) {
	closes := Closes(randomWalk(40, 11))
	b := Bollinger(closes, 20, 2)
	i := len(closes) - 1
	if d := math.Abs((b.Upper[i] - b.Middle[i]) - (b.Middle[i] - b.Lower[i])); d > 1e-9 {
		t.Fatalf("bands not symmetric: %v", d)
	}
}

func TestATRAndDonchian(t *testing.T) {
	c := randomWalk(60, 5)
	atr := ATR(c, 14)
	if math.IsNaN(atr[13]) || !math.IsNaN(atr[12]) {
		t.Fatalf("unexpected ATR warmup")
	}
	d := Donchian(c, 20)
	i := len(c) - 1
	if d.Upper[i] < d.Lower[i] {
		t.Fatalf("donchian inverted")
	}
}

func TestSwingPoints(t *testing.T) {
	highs := []float64{1, 2, 5, 2, 1, 2, 3, 2, 1}
	c := make([]models.Candle, len(highs))
	for i, h := range highs {
		c[i] = models.Candle{Open: h - 0.5, High: h, Low: h - 1, Close: h - 0.5}
	}
	sw := SwingPoints(c, 2)
	hs := Filter(sw, SwingHigh)
	if len(hs) != 2 || hs[0].Index != 2 || hs[1].Index != 6 {
		t.Fatalf("unexpected swing highs %+v", hs)
	}
	ls := Filter(sw, SwingLow)
	if len(ls) != 1 || ls[0].Index != 4 {
		t.Fatalf("unexpected swing lows %+v", ls)
	}
}
