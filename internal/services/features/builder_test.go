package features

import (
	"math"
	"math/rand"
	"testing"

	"TradeLoop/internal/domain/models"
)

func walk(n int, seed int64) []models.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]models.Candle, n)
	price := 1.1
	for i := range out {
		open := price
		price *= 1 + (r.Float64()-0.5)*0.01
		out[i] = models.Candle{
			T:          int64(1700000000 + i*60),
			Open:       open,
			High:       math.Max(open, price) * 1.001,
			Low:        math.Min(open, price) * 0.999,
			Close:      price,
			TickVolume: 50 + r.Float64()*100,
		}
	}
	return out
}

func TestSchemaPerCategory(t *testing.T) {
	base := len(NewBuilder(models.CategoryForex).Schema())
	if got := len(NewBuilder(models.CategoryVolatility).Schema()); got != base+1 {
		t.Fatalf("volatility schema = %d, want %d", got, base+1)
	}
	bc := NewBuilder(models.CategoryBoomCrash).Schema()
	if bc[len(bc)-1] != FeatureSpikeDensity {
		t.Fatalf("boom/crash schema must end with spike_density")
	}
}

func TestBuildDropsWarmupRows(t *testing.T) {
	c := walk(120, 1)
	m := NewBuilder(models.CategoryForex).Build(c)
	if m.Len() != 120-(MinCandles-1) {
		t.Fatalf("rows = %d, want %d", m.Len(), 120-(MinCandles-1))
	}
	if m.Index[0] != MinCandles-1 {
		t.Fatalf("first row index = %d", m.Index[0])
	}
	for _, row := range m.Rows {
		for _, v := range row {
			if math.IsNaN(v) {
				t.Fatalf("NaN survived in matrix")
			}
		}
	}
}

func TestLatestMatchesSchema(t *testing.T) {
	for _, cat := range models.Categories {
		b := NewBuilder(cat)
		v, err := b.Latest(walk(80, 2))
		if err != nil {
			t.Fatalf("%s: %v", cat, err)
		}
		if !v.SameSchema(b.Schema()) {
			t.Fatalf("%s: schema mismatch", cat)
		}
	}
}

func TestLatestInsufficientData(t *testing.T) {
	_, err := NewBuilder(models.CategoryForex).Latest(walk(MinCandles-1, 3))
	if models.KindOf(err) != models.KindInsufficientData {
		t.Fatalf("kind = %v, want InsufficientData", models.KindOf(err))
	}
}

func TestAlignRejectsMismatch(t *testing.T) {
	b := NewBuilder(models.CategoryForex)
	v := b.Sentinel(nil)
	if _, err := Align(v, b.Schema()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	other := NewBuilder(models.CategoryBoomCrash).Schema()
	if _, err := Align(v, other); models.KindOf(err) != models.KindBadInput {
		t.Fatalf("expected BadInput, got %v", err)
	}
}

func TestSentinelDefaults(t *testing.T) {
	v := NewBuilder(models.CategoryForex).Sentinel(map[string]float64{"atr_14": 0.0005})
	if v.Get("rsi_14", -1) != 50 {
		t.Fatalf("rsi sentinel must be 50")
	}
	if v.Get("atr_14", -1) != 0.0005 {
		t.Fatalf("known value must be kept")
	}
	if v.Get("ret_1", -1) != 0 {
		t.Fatalf("additive sentinel must be 0")
	}
}

func TestLabel(t *testing.T) {
	c := []models.Candle{{Close: 100}, {Close: 100}, {Close: 100}, {Close: 101}, {Close: 99}, {Close: 100.1}}
	if a, ok := Label(c, 0, 3, 0.005); !ok || a != models.ActionBuy {
		t.Fatalf("got %v %v, want buy", a, ok)
	}
	if a, _ := Label(c, 1, 3, 0.005); a != models.ActionSell {
		t.Fatalf("got %v, want sell", a)
	}
	if a, _ := Label(c, 2, 3, 0.005); a != models.ActionHold {
		t.Fatalf("got %v, want hold", a)
	}
	if _, ok := Label(c, 3, 3, 0.005); ok {
		t.Fatalf("horizon past end must not label")
	}
}

func TestOutcomeLabel(t *testing.T) {
	if OutcomeLabel(models.ActionBuy, true) != models.ActionBuy {
		t.Fatalf("winning buy labels buy")
	}
	if OutcomeLabel(models.ActionBuy, false) != models.ActionSell {
		t.Fatalf("losing buy labels sell")
	}
	if OutcomeLabel(models.ActionSell, false) != models.ActionBuy {
		t.Fatalf("losing sell labels buy")
	}
}

func TestSyntheticSamplesMostRecentFirst(t *testing.T) {
	s := NewBuilder(models.CategoryForex).SyntheticSamples(walk(100, 4), DefaultHorizon, 0.002)
	if len(s) != 100-(MinCandles-1)-DefaultHorizon {
		t.Fatalf("samples = %d", len(s))
	}
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp >= s[i-1].Timestamp {
			t.Fatalf("samples not descending at %d", i)
		}
	}
}
