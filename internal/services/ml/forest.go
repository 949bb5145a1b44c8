package ml

import (
	"errors"
	"math"
	"math/rand"

	"TradeLoop/internal/domain/models"
)

// NumClasses is fixed by models.Actions: sell, hold, buy.
const NumClasses = 3

var errEmptyTraining = errors.New("ml: empty training set")

// RandomForest is a bagged ensemble of gini trees with per-node feature subsampling.
type RandomForest struct {
	NTrees      int       `json:"n_trees"`
	MaxDepth    int       `json:"max_depth"`
	MinLeaf     int       `json:"min_leaf"`
	Seed        int64     `json:"seed"`
	NFeatures   int       `json:"n_features"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"importances"`
}

// NewRandomForest returns an unfitted forest with the default shape.
func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{NTrees: 50, MaxDepth: 8, MinLeaf: 2, Seed: seed}
}

func (f *RandomForest) Family() models.ModelFamily { return models.FamilyRandomForest }

func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return errEmptyTraining
	}
	f.NFeatures = len(X[0])
	rng := rand.New(rand.NewSource(f.Seed))
	b := &treeBuilder{
		X:       X,
		classes: y,
		k:       NumClasses,
		params: treeParams{
			maxDepth:    f.MaxDepth,
			minLeaf:     maxInt(f.MinLeaf, 1),
			maxFeatures: maxInt(int(math.Sqrt(float64(f.NFeatures))), 1),
		},
		rng:        rng,
		importance: make([]float64, f.NFeatures),
	}
	b.leaf = func(idx []int) []float64 {
		counts := make([]float64, NumClasses)
		for _, i := range idx {
			counts[y[i]]++
		}
		return normalize(counts)
	}
	f.Trees = make([]Tree, 0, f.NTrees)
	n := len(X)
	for t := 0; t < f.NTrees; t++ {
		boot := make([]int, n)
		for i := range boot {
			boot[i] = rng.Intn(n)
		}
		f.Trees = append(f.Trees, b.build(boot))
	}
	f.Importances = normalize(b.importance)
	return nil
}

func (f *RandomForest) PredictProba(x []float64) []float64 {
	out := make([]float64, NumClasses)
	if len(f.Trees) == 0 {
		return uniform()
	}
	for i := range f.Trees {
		v := f.Trees[i].Leaf(x)
		for k := range v {
			out[k] += v[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(f.Trees))
	}
	return out
}

func (f *RandomForest) Predict(X [][]float64) []int { return predictAll(f, X) }

func (f *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

func predictAll(c models.Classifier, X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		out[i] = Argmax(c.PredictProba(x))
	}
	return out
}

// Argmax returns the most probable class. Ties resolve to hold, then the lowest index.
func Argmax(p []float64) int {
	if len(p) == 0 {
		return models.ActionHold.ClassIndex()
	}
	best := models.ActionHold.ClassIndex()
	if best >= len(p) {
		best = 0
	}
	for i := range p {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

func uniform() []float64 {
	out := make([]float64, NumClasses)
	for k := range out {
		out[k] = 1.0 / NumClasses
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
