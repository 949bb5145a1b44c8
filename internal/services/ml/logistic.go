package ml

import (
	"math"

	"TradeLoop/internal/domain/models"
)

// Logistic is multinomial logistic regression trained by batch gradient descent.
// W[k] holds the bias in its last column.
type Logistic struct {
	Iterations   int         `json:"iterations"`
	LearningRate float64     `json:"learning_rate"`
	L2           float64     `json:"l2"`
	NFeatures    int         `json:"n_features"`
	W            [][]float64 `json:"w"`
}

func NewLogistic() *Logistic {
	return &Logistic{Iterations: 300, LearningRate: 0.1, L2: 1e-3}
}

func (l *Logistic) Family() models.ModelFamily { return models.FamilyLogistic }

func (l *Logistic) Fit(X [][]float64, y []int) error {
	n := len(X)
	if n == 0 || n != len(y) {
		return errEmptyTraining
	}
	nf := len(X[0])
	l.NFeatures = nf
	l.W = make([][]float64, NumClasses)
	for k := range l.W {
		l.W[k] = make([]float64, nf+1)
	}
	grad := make([][]float64, NumClasses)
	for k := range grad {
		grad[k] = make([]float64, nf+1)
	}
	for it := 0; it < l.Iterations; it++ {
		for k := range grad {
			for j := range grad[k] {
				grad[k][j] = 0
			}
		}
		for i, x := range X {
			p := l.PredictProba(x)
			for k := 0; k < NumClasses; k++ {
				t := 0.0
				if y[i] == k {
					t = 1
				}
				e := p[k] - t
				for j, v := range x {
					grad[k][j] += e * v
				}
				grad[k][nf] += e
			}
		}
		for k := range l.W {
			for j := range l.W[k] {
				g := grad[k][j] / float64(n)
				if j < nf {
					g += l.L2 * l.W[k][j]
				}
				l.W[k][j] -= l.LearningRate * g
			}
		}
	}
	return nil
}

func (l *Logistic) PredictProba(x []float64) []float64 {
	if len(l.W) != NumClasses {
		return uniform()
	}
	z := make([]float64, NumClasses)
	for k, w := range l.W {
		nf := len(w) - 1
		s := w[nf]
		for j := 0; j < nf && j < len(x); j++ {
			s += w[j] * x[j]
		}
		z[k] = s
	}
	return softmax(z)
}

func (l *Logistic) Predict(X [][]float64) []int { return predictAll(l, X) }

func (l *Logistic) FeatureImportances() []float64 {
	imp := make([]float64, l.NFeatures)
	for _, w := range l.W {
		for j := 0; j < l.NFeatures && j < len(w); j++ {
			imp[j] += math.Abs(w[j])
		}
	}
	return normalize(imp)
}
