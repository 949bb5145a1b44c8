package patterns

import (
	"math"

	"TradeLoop/internal/domain/models"
)

// Spike thresholds. Percent values compare against the previous close.
const (
	SpikePriceChangePct = 0.8
	SpikeRangePct       = 1.0
	SpikeVolumeRatio    = 2.0
	SpikeMomentumPct    = 0.5
	SpikeMinCriteria    = 3
	SpikeVolumeLookback = 20
	spikeBaseConfidence = 0.9
)

// Spike is the single-candle Boom/Crash spike finding for the last bar.
type Spike struct {
	Detected       bool          `json:"spike_detected"`
	Direction      models.Action `json:"direction"`
	Confidence     float64       `json:"confidence"`
	Criteria       int           `json:"criteria"`
	PriceChangePct float64       `json:"price_change_pct"`
	RangePct       float64       `json:"range_pct"`
	VolumeRatio    float64       `json:"volume_ratio"`
	MomentumPct    float64       `json:"momentum_pct"`
	PriceSpike     bool          `json:"price_spike"`
	RangeSpike     bool          `json:"range_spike"`
	VolumeSpike    bool          `json:"volume_spike"`
	MomentumSpike  bool          `json:"momentum_spike"`
}

// DetectSpike evaluates the four spike criteria on the last candle. Volume is
// compared with the mean of up to 20 preceding bars.
func DetectSpike(candles []models.Candle) Spike {
	s := Spike{Direction: models.ActionHold}
	if len(candles) < 2 {
		return s
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2].Close
	if prev <= 0 || last.Close <= 0 {
		return s
	}
	s.PriceChangePct = (last.Close - prev) / prev * 100
	s.RangePct = (last.High - last.Low) / prev * 100
	s.MomentumPct = math.Abs(last.Close-last.Open) / last.Close * 100

	from := len(candles) - 1 - SpikeVolumeLookback
	if from < 0 {
		from = 0
	}
	sum, n := 0.0, 0
	for _, c := range candles[from : len(candles)-1] {
		sum += c.TickVolume
		n++
	}
	if n > 0 && sum > 0 {
		s.VolumeRatio = last.TickVolume / (sum / float64(n))
	}

	s.PriceSpike = math.Abs(s.PriceChangePct) > SpikePriceChangePct
	s.RangeSpike = s.RangePct > SpikeRangePct
	s.VolumeSpike = s.VolumeRatio > SpikeVolumeRatio
	s.MomentumSpike = s.MomentumPct > SpikeMomentumPct
	for _, b := range []bool{s.PriceSpike, s.RangeSpike, s.VolumeSpike, s.MomentumSpike} {
		if b {
			s.Criteria++
		}
	}
	s.Confidence = math.Min(float64(s.Criteria)/4*spikeBaseConfidence, 1)
	if s.Criteria >= SpikeMinCriteria {
		s.Detected = true
		switch {
		case s.PriceChangePct > 0:
			s.Direction = models.ActionBuy
		case s.PriceChangePct < 0:
			s.Direction = models.ActionSell
		}
	}
	return s
}

// StairMinRun is the run length at which a stair is confirmed.
const StairMinRun = 3

// Stair is a run of strictly rising highs or strictly falling lows ending at the last bar.
type Stair struct {
	Direction models.Action `json:"direction"`
	Length    int           `json:"length"`
	Confirmed bool          `json:"confirmed"`
}

// DetectStair measures the rising-high and falling-low runs ending at the last
// candle and reports the longer one. Equal runs report no direction.
func DetectStair(candles []models.Candle) Stair {
	up, down := 0, 0
	for i := len(candles) - 1; i > 0 && candles[i].High > candles[i-1].High; i-- {
		up++
	}
	for i := len(candles) - 1; i > 0 && candles[i].Low < candles[i-1].Low; i-- {
		down++
	}
	switch {
	case up > down:
		return Stair{Direction: models.ActionBuy, Length: up, Confirmed: up >= StairMinRun}
	case down > up:
		return Stair{Direction: models.ActionSell, Length: down, Confirmed: down >= StairMinRun}
	}
	return Stair{Direction: models.ActionHold, Length: up}
}

// Momentum is the Boom/Crash 3/5-bar momentum reading.
type Momentum struct {
	Signal         models.Action `json:"signal"`
	Strength       float64       `json:"strength"`
	Mom3           float64       `json:"mom3"`
	Mom5           float64       `json:"mom5"`
	IsSpike        bool          `json:"is_spike"`
	SpikeDirection models.Action `json:"spike_direction"`
}

// momentumFullScalePct is the average return, in percent, mapped to strength 1.
const momentumFullScalePct = 0.5

// BoomCrashMomentum averages the last 3 and 5 simple returns. Both positive
// is buy, both negative is sell.
func BoomCrashMomentum(candles []models.Candle) Momentum {
	m := Momentum{Signal: models.ActionHold, SpikeDirection: models.ActionHold}
	if len(candles) < 6 {
		return m
	}
	m.Mom3 = meanReturn(candles, 3)
	m.Mom5 = meanReturn(candles, 5)
	switch {
	case m.Mom3 > 0 && m.Mom5 > 0:
		m.Signal = models.ActionBuy
	case m.Mom3 < 0 && m.Mom5 < 0:
		m.Signal = models.ActionSell
	}
	avg := (math.Abs(m.Mom3) + math.Abs(m.Mom5)) / 2 * 100
	m.Strength = math.Min(avg/momentumFullScalePct, 1)
	sp := DetectSpike(candles)
	m.IsSpike = sp.Detected
	m.SpikeDirection = sp.Direction
	return m
}

func meanReturn(candles []models.Candle, n int) float64 {
	sum := 0.0
	for i := len(candles) - n; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev > 0 {
			sum += (candles[i].Close - prev) / prev
		}
	}
	return sum / float64(n)
}
