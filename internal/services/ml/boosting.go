package ml

import (
	"math"

	"TradeLoop/internal/domain/models"
)

// GradientBoosting is a multiclass softmax booster of squared-error trees.
// Each round grows one tree per class on the pseudo-residuals.
type GradientBoosting struct {
	Rounds       int       `json:"rounds"`
	MaxDepth     int       `json:"max_depth"`
	MinLeaf      int       `json:"min_leaf"`
	LearningRate float64   `json:"learning_rate"`
	Light        bool      `json:"light"`
	NFeatures    int       `json:"n_features"`
	Init         []float64 `json:"init"`
	Trees        [][]Tree  `json:"trees"`
	Importances  []float64 `json:"importances"`
}

// NewGradientBoosting returns the full variant, or the lighter one used for
// slower-moving instruments.
func NewGradientBoosting(light bool) *GradientBoosting {
	if light {
		return &GradientBoosting{Rounds: 50, MaxDepth: 2, MinLeaf: 5, LearningRate: 0.1, Light: true}
	}
	return &GradientBoosting{Rounds: 100, MaxDepth: 3, MinLeaf: 5, LearningRate: 0.1}
}

func (g *GradientBoosting) Family() models.ModelFamily { return models.FamilyGradientBoosted }

func (g *GradientBoosting) Fit(X [][]float64, y []int) error {
	n := len(X)
	if n == 0 || n != len(y) {
		return errEmptyTraining
	}
	g.NFeatures = len(X[0])
	counts := make([]float64, NumClasses)
	for _, c := range y {
		counts[c]++
	}
	g.Init = make([]float64, NumClasses)
	for k := range g.Init {
		g.Init[k] = math.Log(math.Max(counts[k]/float64(n), 1e-6))
	}
	F := make([][]float64, n)
	for i := range F {
		F[i] = append([]float64(nil), g.Init...)
	}
	residual := make([]float64, n)
	b := &treeBuilder{
		X:          X,
		target:     residual,
		params:     treeParams{maxDepth: g.MaxDepth, minLeaf: maxInt(g.MinLeaf, 1)},
		importance: make([]float64, g.NFeatures),
	}
	b.leaf = func(idx []int) []float64 {
		num, den := 0.0, 0.0
		for _, i := range idx {
			r := residual[i]
			num += r
			den += math.Abs(r) * (1 - math.Abs(r))
		}
		if den < 1e-12 {
			return []float64{0}
		}
		return []float64{num / den * float64(NumClasses-1) / NumClasses}
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	g.Trees = make([][]Tree, 0, g.Rounds)
	for m := 0; m < g.Rounds; m++ {
		probs := make([][]float64, n)
		for i := range F {
			probs[i] = softmax(F[i])
		}
		round := make([]Tree, NumClasses)
		for k := 0; k < NumClasses; k++ {
			for i := range residual {
				target := 0.0
				if y[i] == k {
					target = 1
				}
				residual[i] = target - probs[i][k]
			}
			round[k] = b.build(all)
			for i := range F {
				F[i][k] += g.LearningRate * round[k].Leaf(X[i])[0]
			}
		}
		g.Trees = append(g.Trees, round)
	}
	g.Importances = normalize(b.importance)
	return nil
}

func (g *GradientBoosting) raw(x []float64) []float64 {
	f := append([]float64(nil), g.Init...)
	if len(f) != NumClasses {
		f = make([]float64, NumClasses)
	}
	for _, round := range g.Trees {
		for k := range round {
			f[k] += g.LearningRate * round[k].Leaf(x)[0]
		}
	}
	return f
}

func (g *GradientBoosting) PredictProba(x []float64) []float64 { return softmax(g.raw(x)) }

func (g *GradientBoosting) Predict(X [][]float64) []int { return predictAll(g, X) }

func (g *GradientBoosting) FeatureImportances() []float64 {
	return append([]float64(nil), g.Importances...)
}

func softmax(z []float64) []float64 {
	m := math.Inf(-1)
	for _, v := range z {
		m = math.Max(m, v)
	}
	out := make([]float64, len(z))
	s := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - m)
		s += out[i]
	}
	for i := range out {
		out[i] /= s
	}
	return out
}
