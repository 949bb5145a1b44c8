package ml

import (
	"encoding/json"
	"fmt"

	"TradeLoop/internal/domain/models"
)

type envelope struct {
	Family models.ModelFamily `json:"family"`
	Model  json.RawMessage    `json:"model"`
}

// MarshalModel encodes a fitted classifier with its family tag. Float values
// use the shortest round-trip representation so decoding is bit-exact.
func MarshalModel(c models.Classifier) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", c.Family(), err)
	}
	return json.Marshal(envelope{Family: c.Family(), Model: body})
}

// UnmarshalModel decodes a classifier written by MarshalModel.
func UnmarshalModel(data []byte) (models.Classifier, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}
	var c models.Classifier
	switch env.Family {
	case models.FamilyRandomForest:
		c = &RandomForest{}
	case models.FamilyGradientBoosted:
		c = &GradientBoosting{}
	case models.FamilyLogistic:
		c = &Logistic{}
	default:
		return nil, fmt.Errorf("unknown model family %q", env.Family)
	}
	if err := json.Unmarshal(env.Model, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Family, err)
	}
	return c, nil
}

// MarshalScaler encodes a fitted scaler.
func MarshalScaler(s *StandardScaler) ([]byte, error) { return json.Marshal(s) }

// UnmarshalScaler decodes a scaler written by MarshalScaler.
func UnmarshalScaler(data []byte) (*StandardScaler, error) {
	s := &StandardScaler{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	return s, nil
}
