package interp

import (
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ehs-analytics/renalstat/dataset"
	"github.com/ehs-analytics/renalstat/forest"
)

// InteractionMatrix holds pairwise H-statistics for a feature set.  The
// matrix is symmetric with zero diagonal.
type InteractionMatrix struct {
	Features []string
	H        [][]float64
}

// Get returns the H-statistic for an unordered feature pair, and whether
// both features are present in the matrix.
func (m *InteractionMatrix) Get(featureA, featureB string) (float64, bool) {
	ia, ib := -1, -1
	for i, na := range m.Features {
		if na == featureA {
			ia = i
		}
		if na == featureB {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return 0, false
	}
	return m.H[ia][ib], true
}

// center subtracts the mean of the non-NaN entries from each entry and
// returns the centered copy.
func center(x []float64) []float64 {
	var s float64
	var n int
	for _, v := range x {
		if !math.IsNaN(v) {
			s += v
			n++
		}
	}
	mean := s / float64(n)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

// hFromParts computes the H-statistic from a two-way surface and the
// matching one-way curves.  All partial dependence values are centered;
// cells excluded by the envelope guard are skipped.
func hFromParts(surf *Surface, pdA, pdB *Curve) float64 {

	// Center the surface over its valid cells.
	var s float64
	var n int
	for _, row := range surf.Z {
		for _, v := range row {
			if !math.IsNaN(v) {
				s += v
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	zmean := s / float64(n)

	ac := center(pdA.Y)
	bc := center(pdB.Y)

	var num, den float64
	for i, row := range surf.Z {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			zc := v - zmean
			d := zc - ac[i] - bc[j]
			num += d * d
			den += zc * zc
		}
	}

	if den <= 0 {
		return 0
	}
	h := math.Sqrt(num / den)
	if h > 1 {
		h = 1
	}
	return h
}

// HStatistic computes the Friedman-Popescu interaction strength of a
// feature pair, a value in [0, 1].  Values near 0 indicate an additive
// joint effect; values near 1 indicate that the interaction dominates.
func HStatistic(f *forest.Forest, ds *dataset.Dataset, featureA, featureB string, gridSize int, opt Options) (float64, error) {

	// The one-way curves must stay aligned with the surface grids, so
	// the guard is applied only through the surface's excluded cells.
	copt := opt
	copt.EnvelopeGuard = false

	pdA, err := PDP(f, ds, featureA, gridSize, copt)
	if err != nil {
		return 0, err
	}
	pdB, err := PDP(f, ds, featureB, gridSize, copt)
	if err != nil {
		return 0, err
	}
	surf, err := PairPDP(f, ds, featureA, featureB, gridSize, opt)
	if err != nil {
		return 0, err
	}

	return hFromParts(surf, pdA, pdB), nil
}

// Matrix computes the H-statistic for every unordered pair of the given
// features.  Pairs are computed in parallel; when Options.OnPair is set
// it is invoked as each pair completes, so partial results can be
// inspected while the remaining pairs are still running.
func Matrix(f *forest.Forest, ds *dataset.Dataset, features []string, gridSize int, opt Options) (*InteractionMatrix, error) {

	k := len(features)
	m := &InteractionMatrix{
		Features: append([]string(nil), features...),
		H:        make([][]float64, k),
	}
	for i := range m.H {
		m.H[i] = make([]float64, k)
	}

	// The one-way curves are shared across every pair that involves
	// the feature, so compute them once up front.  They must stay
	// aligned with the surface grids, so the guard is applied only
	// through each surface's excluded cells.
	copt := opt
	copt.EnvelopeGuard = false
	curves := make([]*Curve, k)
	for i, na := range features {
		c, err := PDP(f, ds, na, gridSize, copt)
		if err != nil {
			return nil, err
		}
		curves[i] = c
	}

	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(workers)

	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			i, j := i, j
			eg.Go(func() error {
				surf, err := PairPDP(f, ds, features[i], features[j], gridSize, opt)
				if err != nil {
					return err
				}
				h := hFromParts(surf, curves[i], curves[j])

				mu.Lock()
				m.H[i][j] = h
				m.H[j][i] = h
				if opt.OnPair != nil {
					opt.OnPair(features[i], features[j], h)
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return m, nil
}
