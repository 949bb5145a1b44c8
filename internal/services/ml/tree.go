package ml

import (
	"math/rand"
	"sort"
)

// Node is one decision tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
}

// Tree is a flat binary tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf walks x down to its leaf value. Samples with x[f] <= threshold go left.
func (t *Tree) Leaf(x []float64) []float64 {
	if len(t.Nodes) == 0 {
		return nil
	}
	i := 0
	for t.Nodes[i].Feature >= 0 {
		n := t.Nodes[i]
		if n.Feature < len(x) && x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

type treeParams struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int
}

// treeBuilder grows CART trees either on class labels (gini) or on real
// targets (squared error). leaf computes the stored value for a node's rows.
type treeBuilder struct {
	X          [][]float64
	classes    []int
	k          int
	target     []float64
	params     treeParams
	rng        *rand.Rand
	leaf       func(idx []int) []float64
	nodes      []Node
	importance []float64
}

func (b *treeBuilder) build(idx []int) Tree {
	b.nodes = nil
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})
	if depth >= b.params.maxDepth || len(idx) < 2*b.params.minLeaf || b.pure(idx) {
		b.nodes[id].Value = b.leaf(idx)
		return id
	}
	f, thr, gain, ok := b.bestSplit(idx)
	if !ok {
		b.nodes[id].Value = b.leaf(idx)
		return id
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][f] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importance[f] += gain
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = Node{Feature: f, Threshold: thr, Left: l, Right: r}
	return id
}

func (b *treeBuilder) pure(idx []int) bool {
	if len(idx) <= 1 {
		return true
	}
	if b.classes != nil {
		for _, i := range idx[1:] {
			if b.classes[i] != b.classes[idx[0]] {
				return false
			}
		}
		return true
	}
	for _, i := range idx[1:] {
		if b.target[i] != b.target[idx[0]] {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidateFeatures() []int {
	nf := len(b.X[0])
	m := b.params.maxFeatures
	if m <= 0 || m >= nf || b.rng == nil {
		out := make([]int, nf)
		for j := range out {
			out[j] = j
		}
		return out
	}
	return b.rng.Perm(nf)[:m]
}

// bestSplit returns the feature and threshold with the largest weighted
// impurity decrease.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, float64, bool) {
	parent := b.impurity(idx)
	n := len(idx)
	bestF, bestThr, bestGain := -1, 0.0, 0.0
	sorted := make([]int, n)
	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })
		sw := b.newSweep(sorted)
		for pos := 0; pos < n-1; pos++ {
			sw.move(sorted[pos])
			nl := pos + 1
			if nl < b.params.minLeaf || n-nl < b.params.minLeaf {
				continue
			}
			v, next := b.X[sorted[pos]][f], b.X[sorted[pos+1]][f]
			if v == next {
				continue
			}
			gain := parent - sw.childImpurity()
			if gain > bestGain+1e-12 {
				bestF, bestThr, bestGain = f, v, gain
			}
		}
	}
	return bestF, bestThr, bestGain, bestF >= 0
}

// impurity is n·gini for classification and SSE for regression.
func (b *treeBuilder) impurity(idx []int) float64 {
	if b.classes != nil {
		counts := make([]float64, b.k)
		for _, i := range idx {
			counts[b.classes[i]]++
		}
		return weightedGini(counts, float64(len(idx)))
	}
	s, s2 := 0.0, 0.0
	for _, i := range idx {
		s += b.target[i]
		s2 += b.target[i] * b.target[i]
	}
	return sse(s, s2, float64(len(idx)))
}

func weightedGini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return n * g
}

func sse(s, s2, n float64) float64 {
	if n == 0 {
		return 0
	}
	v := s2 - s*s/n
	if v < 0 {
		return 0
	}
	return v
}

// sweep moves rows from the right partition to the left one by one.
type sweep struct {
	b       *treeBuilder
	lc, rc  []float64
	ls, ls2 float64
	rs, rs2 float64
	nl, nr  float64
}

func (b *treeBuilder) newSweep(idx []int) *sweep {
	sw := &sweep{b: b, nr: float64(len(idx))}
	if b.classes != nil {
		sw.lc = make([]float64, b.k)
		sw.rc = make([]float64, b.k)
		for _, i := range idx {
			sw.rc[b.classes[i]]++
		}
		return sw
	}
	for _, i := range idx {
		sw.rs += b.target[i]
		sw.rs2 += b.target[i] * b.target[i]
	}
	return sw
}

func (s *sweep) move(i int) {
	s.nl++
	s.nr--
	if s.b.classes != nil {
		c := s.b.classes[i]
		s.lc[c]++
		s.rc[c]--
		return
	}
	y := s.b.target[i]
	s.ls += y
	s.ls2 += y * y
	s.rs -= y
	s.rs2 -= y * y
}

func (s *sweep) childImpurity() float64 {
	if s.b.classes != nil {
		return weightedGini(s.lc, s.nl) + weightedGini(s.rc, s.nr)
	}
	return sse(s.ls, s.ls2, s.nl) + sse(s.rs, s.rs2, s.nr)
}

// normalize scales xs to sum to one; all-zero input stays zero.
func normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	s := 0.0
	for _, v := range xs {
		s += v
	}
	if s <= 0 {
		return out
	}
	for i, v := range xs {
		out[i] = v / s
	}
	return out
}
