package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions     *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	trainings     *prometheus.CounterVec
	trainSkips    *prometheus.CounterVec
	modelAccuracy *prometheus.GaugeVec
	modelF1       *prometheus.GaugeVec
	trainSamples  *prometheus.GaugeVec
	driftFactor   *prometheus.GaugeVec
	winRate       *prometheus.GaugeVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeloop_decisions_total",
				Help: "Decisions emitted by action and source model",
			},
			[]string{"symbol", "timeframe", "action", "model"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeloop_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_last_price",
				Help: "Last decision mid price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeloop_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		trainings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeloop_trainings_total",
				Help: "Completed training runs",
			},
			[]string{"symbol", "timeframe", "family"},
		),
		trainSkips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeloop_training_skips_total",
				Help: "Training runs skipped by reason",
			},
			[]string{"symbol", "timeframe", "reason"},
		),
		modelAccuracy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_model_accuracy",
				Help: "Held-out accuracy of the active model",
			},
			[]string{"symbol", "timeframe"},
		),
		modelF1: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_model_f1",
				Help: "Held-out weighted F1 of the active model",
			},
			[]string{"symbol", "timeframe"},
		),
		trainSamples: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_model_training_samples",
				Help: "Samples used by the last training run",
			},
			[]string{"symbol", "timeframe"},
		),
		driftFactor: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_calibration_drift_factor",
				Help: "Current drift factor per slot",
			},
			[]string{"symbol", "timeframe"},
		),
		winRate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeloop_calibration_win_rate",
				Help: "Cumulative win rate per slot",
			},
			[]string{"symbol", "timeframe"},
		),
	}
}

// RecordDecision counts an emitted decision.
func (r *Recorder) RecordDecision(symbol, timeframe, action, modelUsed string) {
	r.decisions.WithLabelValues(symbol, timeframe, action, modelUsed).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordTraining(symbol, timeframe, family string, accuracy, f1 float64, samples int) {
	r.trainings.WithLabelValues(symbol, timeframe, family).Inc()
	r.modelAccuracy.WithLabelValues(symbol, timeframe).Set(accuracy)
	r.modelF1.WithLabelValues(symbol, timeframe).Set(f1)
	r.trainSamples.WithLabelValues(symbol, timeframe).Set(float64(samples))
}

func (r *Recorder) RecordTrainingSkip(symbol, timeframe, reason string) {
	r.trainSkips.WithLabelValues(symbol, timeframe, reason).Inc()
}

func (r *Recorder) RecordCalibration(symbol, timeframe string, driftFactor, winRate float64) {
	r.driftFactor.WithLabelValues(symbol, timeframe).Set(driftFactor)
	r.winRate.WithLabelValues(symbol, timeframe).Set(winRate)
}
