package models

import "time"

// ModelFamily tags the classifier variant.
type ModelFamily string

const (
	FamilyRandomForest    ModelFamily = "random_forest"
	FamilyGradientBoosted ModelFamily = "gradient_boosted"
	FamilyLogistic        ModelFamily = "logistic"
)

// IsValid reports whether f is a known family.
func (f ModelFamily) IsValid() bool {
	switch f {
	case FamilyRandomForest, FamilyGradientBoosted, FamilyLogistic:
		return true
	}
	return false
}

// Classifier is the capability set shared by every model family.
// Class columns follow Actions: sell, hold, buy.
type Classifier interface {
	Family() ModelFamily
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) []int
	PredictProba(x []float64) []float64
	FeatureImportances() []float64
}

// Scaler transforms raw feature rows into model space.
type Scaler interface {
	Transform(x []float64) []float64
}

// SlotMetrics is the metric snapshot persisted with a slot.
type SlotMetrics struct {
	Accuracy          float64            `json:"accuracy"`
	F1                float64            `json:"f1_score"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	TrainingSamples   int                `json:"training_samples"`
	TrainingDate      time.Time          `json:"training_date"`
}

// ModelSlot is the per-(symbol, timeframe) trained model holder.
type ModelSlot struct {
	Symbol        string
	Timeframe     string
	Family        ModelFamily
	Model         Classifier
	Scaler        Scaler
	FeatureSchema []string
	Metrics       SlotMetrics
	Category      Category
}

// Key returns the slot key.
func (s *ModelSlot) Key() SlotKey { return SlotKey{Symbol: s.Symbol, Timeframe: s.Timeframe} }

// Prediction is a model output for one feature row.
type Prediction struct {
	Action     Action
	Confidence float64
	Proba      []float64
}

// Predict runs the scaler and classifier on a schema-aligned row. A
// probability vector without one column per action yields hold at zero
// confidence.
func (s *ModelSlot) Predict(x []float64) Prediction {
	row := x
	if s.Scaler != nil {
		row = s.Scaler.Transform(x)
	}
	p := s.Model.PredictProba(row)
	if len(p) != len(Actions) {
		return Prediction{Action: ActionHold, Proba: p}
	}
	best := 1
	for i := range p {
		if p[i] > p[best] {
			best = i
		}
	}
	return Prediction{Action: Actions[best], Confidence: p[best], Proba: p}
}

// MetricsFile is the on-disk metrics JSON of a slot.
type MetricsFile struct {
	Symbol          string                     `json:"symbol"`
	Timeframe       string                     `json:"timeframe"`
	TrainingDate    time.Time                  `json:"training_date"`
	Category        Category                   `json:"category"`
	BestModel       ModelFamily                `json:"best_model"`
	Metrics         map[ModelFamily]FamilyStat `json:"metrics"`
	FeaturesUsed    []string                   `json:"features_used"`
	TrainingSamples int                        `json:"training_samples"`
}

// FamilyStat is the per-family section of MetricsFile.
type FamilyStat struct {
	Accuracy          float64            `json:"accuracy"`
	F1                float64            `json:"f1_score"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}
