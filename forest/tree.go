/*
Package forest implements bagged regression tree ensembles with
out-of-bag error estimation and permutation variable importance.

Trees are stored as index-addressed node arenas with the root at index
0, so independent trees can be grown concurrently without shared state.
Training is deterministic: every tree derives its own generator from the
ensemble seed and its tree index, making ensembles bit-reproducible
regardless of worker count.
*/
package forest

import (
	"math/rand"
	"sort"
)

// node is one cell of a tree arena.  Internal nodes carry a split rule
// and child indices; leaves carry a constant prediction.
type node struct {

	// Feature is the split feature index, or -1 for a leaf.
	feature int

	// Rows with feature value <= threshold go left.
	threshold float64

	left, right int

	// Leaf prediction: mean outcome of the training rows routed here.
	value float64

	// Number of training rows routed to this node.
	n int
}

// Tree is a greedy binary regression tree.
type Tree struct {
	nodes []node
}

// treeConfig controls how a single tree is grown.
type treeConfig struct {

	// Number of features drawn at random at each node.
	maxFeatures int

	// Minimum number of training rows in each child.
	minLeaf int

	// Maximum depth; <= 0 means unlimited.
	maxDepth int
}

// NumNodes returns the number of nodes in the tree arena.
func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

// Predict routes one observation, given as a feature getter, to its leaf
// and returns the leaf value.
func (t *Tree) predict(get func(feature int) float64) float64 {
	k := 0
	for {
		nd := &t.nodes[k]
		if nd.feature < 0 {
			return nd.value
		}
		if get(nd.feature) <= nd.threshold {
			k = nd.left
		} else {
			k = nd.right
		}
	}
}

// Predict returns the tree's prediction for a row of feature values, in
// the same column order the tree was trained with.
func (t *Tree) Predict(row []float64) float64 {
	return t.predict(func(j int) float64 { return row[j] })
}

// growTree builds a regression tree on the given rows of the column-major
// feature matrix x with outcome y.  rows may contain repeated indices
// (a bootstrap sample).
func growTree(x [][]float64, y []float64, rows []int, cfg treeConfig, rng *rand.Rand) *Tree {
	t := &Tree{}
	t.grow(x, y, rows, 1, cfg, rng)
	return t
}

// grow appends the subtree for rows to the arena and returns its index.
func (t *Tree) grow(x [][]float64, y []float64, rows []int, depth int, cfg treeConfig, rng *rand.Rand) int {

	k := len(t.nodes)
	t.nodes = append(t.nodes, node{feature: -1, n: len(rows)})

	var sum, sumsq float64
	for _, i := range rows {
		sum += y[i]
		sumsq += y[i] * y[i]
	}
	nf := float64(len(rows))
	mean := sum / nf
	sse := sumsq - sum*sum/nf

	t.nodes[k].value = mean

	if len(rows) < 2*cfg.minLeaf || sse <= 1e-12 {
		return k
	}
	if cfg.maxDepth > 0 && depth >= cfg.maxDepth {
		return k
	}

	feat, thr, ok := bestSplit(x, y, rows, sse, cfg, rng)
	if !ok {
		return k
	}

	var lrows, rrows []int
	for _, i := range rows {
		if x[feat][i] <= thr {
			lrows = append(lrows, i)
		} else {
			rrows = append(rrows, i)
		}
	}

	// The node must be re-addressed after each recursive call because
	// the arena may be reallocated by append.
	t.nodes[k].feature = feat
	t.nodes[k].threshold = thr
	left := t.grow(x, y, lrows, depth+1, cfg, rng)
	t.nodes[k].left = left
	right := t.grow(x, y, rrows, depth+1, cfg, rng)
	t.nodes[k].right = right

	return k
}

// sampleFeatures draws m distinct feature indices by partial
// Fisher-Yates and returns them in ascending order, so candidate splits
// are always scanned in canonical order.
func sampleFeatures(p, m int, rng *rand.Rand) []int {
	if m > p {
		m = p
	}
	idx := make([]int, p)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < m; i++ {
		j := i + rng.Intn(p-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	idx = idx[:m]
	sort.Ints(idx)
	return idx
}

// bestSplit scans a random feature subset for the (feature, threshold)
// pair minimizing the summed child SSE.  Thresholds are midpoints
// between sorted distinct observed values, and both children must
// contain at least minLeaf rows.  Ties are broken by the first candidate
// in (sorted feature, ascending threshold) order.
func bestSplit(x [][]float64, y []float64, rows []int, sse float64, cfg treeConfig, rng *rand.Rand) (int, float64, bool) {

	feats := sampleFeatures(len(x), cfg.maxFeatures, rng)
	n := len(rows)

	vals := make([]float64, n)
	ys := make([]float64, n)
	ord := make([]int, n)

	bestCost := sse - 1e-12
	bestFeat := -1
	var bestThr float64

	var tsum float64
	for _, i := range rows {
		tsum += y[i]
	}
	var tsumsq float64
	for _, i := range rows {
		tsumsq += y[i] * y[i]
	}

	for _, f := range feats {

		for u, i := range rows {
			ord[u] = u
			vals[u] = x[f][i]
			ys[u] = y[i]
		}
		sort.Slice(ord, func(a, b int) bool { return vals[ord[a]] < vals[ord[b]] })

		// Running left-child sums; the SSE of each side follows from
		// its sum and sum of squares.
		var lsum, lsumsq float64
		for u := 0; u < n-1; u++ {
			v := ys[ord[u]]
			lsum += v
			lsumsq += v * v

			nl := u + 1
			nr := n - nl
			if vals[ord[u]] == vals[ord[u+1]] {
				continue
			}
			if nl < cfg.minLeaf || nr < cfg.minLeaf {
				continue
			}

			rsum := tsum - lsum
			rsumsq := tsumsq - lsumsq
			cost := (lsumsq - lsum*lsum/float64(nl)) + (rsumsq - rsum*rsum/float64(nr))

			if cost < bestCost {
				bestCost = cost
				bestFeat = f
				bestThr = (vals[ord[u]] + vals[ord[u+1]]) / 2
			}
		}
	}

	if bestFeat < 0 {
		return 0, 0, false
	}
	return bestFeat, bestThr, true
}
