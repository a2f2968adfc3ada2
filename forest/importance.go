package forest

import (
	"math"
	"math/rand"
)

// Importance computes out-of-bag permutation importance for every
// feature, in model column order.  For each tree with OOB rows, the
// increase in OOB mean squared error after permuting a feature's values
// across those rows is recorded; the per-feature importance is the mean
// increase over the contributing trees divided by its across-tree
// standard deviation.  Features that never influence predictions score
// near zero.
//
// Permutations are drawn from generators derived from the training seed,
// so repeated calls return identical values.
func (f *Forest) Importance() []float64 {

	p := len(f.features)
	ntree := len(f.trees)

	// deltas[j][k] is the error increase for feature j on tree k.
	deltas := make([][]float64, p)
	for j := range deltas {
		deltas[j] = make([]float64, ntree)
	}

	// Trees without OOB rows contribute nothing and are excluded from
	// the normalization.
	contrib := make([]bool, ntree)

	for k, t := range f.trees {

		oob := f.oob[k]
		if len(oob) == 0 {
			continue
		}
		contrib[k] = true

		base := f.oobMSE(t, oob, -1, nil)

		rng := rand.New(rand.NewSource(subSeed(subSeed(f.seed, k), ntree)))
		perm := make([]int, len(oob))

		for j := 0; j < p; j++ {
			for u := range perm {
				perm[u] = u
			}
			rng.Shuffle(len(perm), func(a, b int) {
				perm[a], perm[b] = perm[b], perm[a]
			})
			deltas[j][k] = f.oobMSE(t, oob, j, perm) - base
		}
	}

	imp := make([]float64, p)
	for j := 0; j < p; j++ {
		var mean float64
		var m int
		for k, d := range deltas[j] {
			if contrib[k] {
				mean += d
				m++
			}
		}
		if m == 0 {
			continue
		}
		mean /= float64(m)

		var sd float64
		for k, d := range deltas[j] {
			if contrib[k] {
				sd += (d - mean) * (d - mean)
			}
		}
		sd = math.Sqrt(sd / float64(m))

		if sd > 1e-12 {
			imp[j] = mean / sd
		} else {
			imp[j] = mean
		}
	}

	return imp
}

// oobMSE returns the mean squared error of tree t over the rows in oob.
// When permFeat >= 0, the values of that feature are permuted across the
// OOB rows according to perm.
func (f *Forest) oobMSE(t *Tree, oob []int, permFeat int, perm []int) float64 {

	var mse float64
	for u, i := range oob {
		pred := t.predict(func(j int) float64 {
			if j == permFeat {
				return f.x[j][oob[perm[u]]]
			}
			return f.x[j][i]
		})
		r := pred - f.y[i]
		mse += r * r
	}

	return mse / float64(len(oob))
}
