package ml

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit shuffles each class with a seeded source and moves
// round(n_c·testFrac) rows of every class to the test split. The test split
// is never empty when there are at least two rows.
func StratifiedSplit(y []int, testFrac float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	byClass := map[int][]int{}
	var classes []int
	for i, c := range y {
		if _, ok := byClass[c]; !ok {
			classes = append(classes, c)
		}
		byClass[c] = append(byClass[c], i)
	}
	sort.Ints(classes)
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		k := int(math.Round(float64(len(idx)) * testFrac))
		if k >= len(idx) {
			k = len(idx) - 1
		}
		test = append(test, idx[:k]...)
		train = append(train, idx[k:]...)
	}
	if len(test) == 0 && len(train) > 1 {
		test = append(test, train[len(train)-1])
		train = train[:len(train)-1]
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Accuracy is the share of matching predictions.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	ok := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(yTrue))
}

// WeightedF1 averages per-class F1 weighted by true-class support.
func WeightedF1(yTrue, yPred []int, k int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	tp := make([]float64, k)
	fp := make([]float64, k)
	fn := make([]float64, k)
	support := make([]float64, k)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		support[t]++
		if t == p {
			tp[t]++
		} else {
			fp[p]++
			fn[t]++
		}
	}
	total := 0.0
	for c := 0; c < k; c++ {
		if support[c] == 0 {
			continue
		}
		den := 2*tp[c] + fp[c] + fn[c]
		f1 := 0.0
		if den > 0 {
			f1 = 2 * tp[c] / den
		}
		total += f1 * support[c]
	}
	return total / float64(len(yTrue))
}

// Rows selects X rows by index.
func Rows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

// Labels selects y entries by index.
func Labels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

// DistinctLabels counts distinct classes.
func DistinctLabels(y []int) int {
	seen := map[int]struct{}{}
	for _, c := range y {
		seen[c] = struct{}{}
	}
	return len(seen)
}
