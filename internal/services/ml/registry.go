package ml

import (
	"TradeLoop/internal/domain/models"
)

// Choice is a model family plus its variant.
type Choice struct {
	Family models.ModelFamily `json:"family"`
	Light  bool               `json:"light,omitempty"`
}

// FamilyFor maps an instrument category to its preferred model.
func FamilyFor(category models.Category) Choice {
	switch category {
	case models.CategoryBoomCrash, models.CategoryVolatility, models.CategoryCrypto:
		return Choice{Family: models.FamilyGradientBoosted}
	case models.CategoryStep, models.CategoryJump, models.CategoryForex, models.CategoryStocks:
		return Choice{Family: models.FamilyGradientBoosted, Light: true}
	default:
		return Choice{Family: models.FamilyRandomForest}
	}
}

// Registry builds classifiers, honoring disabled families and overrides.
// random_forest is always available and terminates every fallback chain.
type Registry struct {
	disabled  map[models.ModelFamily]bool
	overrides map[models.Category]models.ModelFamily
	seed      int64
}

func NewRegistry(disabled []string, overrides map[string]string, seed int64) *Registry {
	r := &Registry{
		disabled:  map[models.ModelFamily]bool{},
		overrides: map[models.Category]models.ModelFamily{},
		seed:      seed,
	}
	for _, f := range disabled {
		fam := models.ModelFamily(f)
		if fam != models.FamilyRandomForest {
			r.disabled[fam] = true
		}
	}
	for cat, fam := range overrides {
		if f := models.ModelFamily(fam); f.IsValid() {
			r.overrides[models.Category(cat)] = f
		}
	}
	return r
}

// Resolve picks the family for a category, falling back to gradient_boosted
// and then random_forest when the preferred one is disabled.
func (r *Registry) Resolve(category models.Category) Choice {
	want := FamilyFor(category)
	if f, ok := r.overrides[category]; ok {
		want = Choice{Family: f}
	}
	chain := []Choice{want, {Family: models.FamilyGradientBoosted, Light: want.Light}, {Family: models.FamilyRandomForest}}
	for _, c := range chain {
		if !r.disabled[c.Family] {
			return c
		}
	}
	return Choice{Family: models.FamilyRandomForest}
}

// New returns an unfitted classifier for choice.
func (r *Registry) New(c Choice) models.Classifier {
	switch c.Family {
	case models.FamilyGradientBoosted:
		return NewGradientBoosting(c.Light)
	case models.FamilyLogistic:
		return NewLogistic()
	default:
		return NewRandomForest(r.seed)
	}
}
