/*
Package interp derives interpretation artifacts from a trained forest:
partial dependence curves and surfaces, and Friedman-Popescu H-statistic
interaction strengths.

All queries are read-only with respect to the forest and dataset, and
may run concurrently.
*/
package interp

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"github.com/ehs-analytics/renalstat/dataset"
	"github.com/ehs-analytics/renalstat/forest"
)

// Options controls partial dependence and interaction queries.
type Options struct {

	// EnvelopeGuard excludes grid points that fall outside the convex
	// hull of the training values of the clamped features.
	EnvelopeGuard bool

	// Workers bounds concurrent pair computations in Matrix; <= 0
	// means one worker per CPU.
	Workers int

	// OnPair, if not nil, is called as each interaction pair
	// completes, allowing partial results to be inspected while a
	// large matrix is still running.
	OnPair func(featureA, featureB string, h float64)
}

// Curve is a one-way partial dependence curve: the model prediction
// averaged over the data with one feature clamped to each grid value.
type Curve struct {
	Feature string
	X       []float64
	Y       []float64
}

// Surface is a two-way partial dependence surface over the grid
// cross-product of two features.  Cells excluded by the envelope guard
// are NaN.
type Surface struct {
	FeatureA string
	FeatureB string
	XA       []float64
	XB       []float64
	Z        [][]float64
}

// Grid builds an ordered grid of at most size representative values for
// the feature from deduplicated empirical quantiles.
func Grid(ds *dataset.Dataset, feature string, size int) ([]float64, error) {

	col, ok := ds.Column(feature)
	if !ok {
		return nil, &dataset.DataError{Op: "interp.Grid", Column: feature, Row: -1, Msg: "feature not found"}
	}
	if size < 2 {
		size = 2
	}

	// Columns shorter than the grid cannot support interior quantile
	// ranks; the distinct observed values themselves are the grid.
	if len(col) < size {
		grid := append([]float64(nil), col...)
		sort.Float64s(grid)
		return dedup(grid), nil
	}

	data := stats.Float64Data(col)

	grid := make([]float64, 0, size)
	for k := 0; k < size; k++ {
		var v float64
		var err error
		switch k {
		case 0:
			v, err = data.Min()
		case size - 1:
			v, err = data.Max()
		default:
			v, err = data.Percentile(100 * float64(k) / float64(size-1))
		}
		if err != nil {
			return nil, &dataset.DataError{Op: "interp.Grid", Column: feature, Row: -1, Msg: err.Error()}
		}
		grid = append(grid, v)
	}

	sort.Float64s(grid)
	return dedup(grid), nil
}

// dedup removes repeated values from a sorted slice in place.
func dedup(x []float64) []float64 {
	out := x[:0]
	for i, v := range x {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// modelColumns resolves the forest's feature columns in the given
// dataset, in model column order.
func modelColumns(f *forest.Forest, ds *dataset.Dataset) ([][]float64, error) {
	cols := make([][]float64, 0, len(f.Features()))
	for _, na := range f.Features() {
		col, ok := ds.Column(na)
		if !ok {
			return nil, &dataset.DataError{Op: "interp", Column: na, Row: -1, Msg: "model feature not found in dataset"}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// PDP estimates the partial dependence curve of the feature: for each
// grid value, the feature is clamped to that value across every row and
// the forest predictions are averaged, the Monte Carlo estimate of the
// feature's marginal effect over the empirical joint distribution of
// the remaining predictors.
func PDP(f *forest.Forest, ds *dataset.Dataset, feature string, gridSize int, opt Options) (*Curve, error) {

	fj, ok := f.FeatureIndex(feature)
	if !ok {
		return nil, &dataset.DataError{Op: "interp.PDP", Column: feature, Row: -1, Msg: "not a model feature"}
	}

	grid, err := Grid(ds, feature, gridSize)
	if err != nil {
		return nil, err
	}

	cols, err := modelColumns(f, ds)
	if err != nil {
		return nil, err
	}

	if opt.EnvelopeGuard {
		tv := f.FeatureValues(fj)
		lo, hi := floats.Min(tv), floats.Max(tv)
		kept := grid[:0]
		for _, g := range grid {
			if g >= lo && g <= hi {
				kept = append(kept, g)
			}
		}
		grid = kept
	}

	n := ds.NumObs()
	clamp := make([]float64, n)
	cols[fj] = clamp

	curve := &Curve{Feature: feature, X: grid, Y: make([]float64, len(grid))}
	for k, g := range grid {
		for i := range clamp {
			clamp[i] = g
		}
		pred := f.PredictCols(cols)
		curve.Y[k] = floats.Sum(pred) / float64(n)
	}

	return curve, nil
}

// advance takes a variable base representation of an integer and adds
// one to it.  The allowed values in ix[j] are 0, 1, ..., nvals[j]-1.
func advance(ix []int, nvals []int) bool {

	for j := range ix {
		if ix[j] < nvals[j]-1 {
			ix[j]++
			return false
		}
		ix[j] = 0
	}
	return true
}

// PairPDP estimates the two-way partial dependence surface of two
// features over the cross-product of their grids.
func PairPDP(f *forest.Forest, ds *dataset.Dataset, featureA, featureB string, gridSize int, opt Options) (*Surface, error) {

	ja, ok := f.FeatureIndex(featureA)
	if !ok {
		return nil, &dataset.DataError{Op: "interp.PairPDP", Column: featureA, Row: -1, Msg: "not a model feature"}
	}
	jb, ok := f.FeatureIndex(featureB)
	if !ok {
		return nil, &dataset.DataError{Op: "interp.PairPDP", Column: featureB, Row: -1, Msg: "not a model feature"}
	}
	if ja == jb {
		return nil, &dataset.DataError{Op: "interp.PairPDP", Column: featureA, Row: -1, Msg: "features of a pair must differ"}
	}

	ga, err := Grid(ds, featureA, gridSize)
	if err != nil {
		return nil, err
	}
	gb, err := Grid(ds, featureB, gridSize)
	if err != nil {
		return nil, err
	}

	cols, err := modelColumns(f, ds)
	if err != nil {
		return nil, err
	}

	var hull []point
	if opt.EnvelopeGuard {
		hull = convexHull(f.FeatureValues(ja), f.FeatureValues(jb))
	}

	n := ds.NumObs()
	clampA := make([]float64, n)
	clampB := make([]float64, n)
	cols[ja] = clampA
	cols[jb] = clampB

	surf := &Surface{FeatureA: featureA, FeatureB: featureB, XA: ga, XB: gb}
	surf.Z = make([][]float64, len(ga))
	for i := range surf.Z {
		surf.Z[i] = make([]float64, len(gb))
	}

	ix := []int{0, 0}
	nvals := []int{len(ga), len(gb)}
	for {
		a, b := ga[ix[0]], gb[ix[1]]

		if hull != nil && !inHull(hull, point{a, b}) {
			surf.Z[ix[0]][ix[1]] = math.NaN()
		} else {
			for i := 0; i < n; i++ {
				clampA[i] = a
				clampB[i] = b
			}
			pred := f.PredictCols(cols)
			surf.Z[ix[0]][ix[1]] = floats.Sum(pred) / float64(n)
		}

		if advance(ix, nvals) {
			break
		}
	}

	return surf, nil
}
