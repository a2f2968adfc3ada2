package survey

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ehs-analytics/renalstat/dataset"
)

func scalarClose(x, y, eps float64) bool {
	return math.Abs(x-y) <= eps
}

func slicesClose(x, y []float64, eps float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !scalarClose(x[i], y[i], eps) {
			return false
		}
	}
	return true
}

// fitData builds a 16 row design with two strata of two PSUs each.
func fitData(t *testing.T, wgt []float64) *Design {
	t.Helper()

	// The classes overlap in (x1, x2) space, so the MLE is finite.
	y := []float64{0, 1, 0, 1, 1, 0, 1, 0, 1, 1, 0, 0, 1, 0, 1, 0}
	konst := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	x1 := []float64{-1.2, 0.4, -0.3, 1.8, 0.9, -1.5, -0.7, 1.1, 2.0, 0.2, -0.9, -2.1, 1.4, -0.4, 0.6, -1.0}
	x2 := []float64{0.5, -0.2, 1.1, 0.8, -1.4, 0.3, -0.6, 1.9, 0.1, -1.1, 0.7, -0.8, 1.3, -1.7, 0.9, 0.2}
	strat := []float64{1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2}
	psu := []float64{1, 1, 1, 1, 2, 2, 2, 2, 1, 1, 1, 1, 2, 2, 2, 2}
	if wgt == nil {
		wgt = []float64{1.5, 2.0, 1.0, 3.0, 2.5, 1.0, 1.5, 2.0, 1.0, 2.0, 3.0, 1.5, 2.0, 1.0, 2.5, 1.5}
	}

	ds, err := dataset.New(
		[]string{"y", "const", "x1", "x2", "strat", "psu", "wgt"},
		[]dataset.ColType{
			dataset.Continuous, dataset.Continuous, dataset.Continuous, dataset.Continuous,
			dataset.Categorical, dataset.Categorical, dataset.Continuous,
		},
		[][]float64{y, konst, x1, x2, strat, psu, wgt},
	)
	require.NoError(t, err)

	d, err := NewDesign(ds, "strat", "psu", "wgt")
	require.NoError(t, err)
	return d
}

// refLogistic is an independent Newton-Raphson fit of an unweighted
// logistic model, used as a reference implementation.
func refLogistic(x [][]float64, y []float64) []float64 {

	nvar := len(x)
	n := len(y)
	beta := make([]float64, nvar)

	for iter := 0; iter < 50; iter++ {

		grad := make([]float64, nvar)
		hess := make([]float64, nvar*nvar)
		for i := 0; i < n; i++ {
			var lp float64
			for j := 0; j < nvar; j++ {
				lp += beta[j] * x[j][i]
			}
			mu := 1 / (1 + math.Exp(-lp))
			for j := 0; j < nvar; j++ {
				grad[j] += (y[i] - mu) * x[j][i]
				for k := 0; k < nvar; k++ {
					hess[j*nvar+k] += mu * (1 - mu) * x[j][i] * x[k][i]
				}
			}
		}

		var step mat.VecDense
		if err := step.SolveVec(mat.NewDense(nvar, nvar, hess), mat.NewVecDense(nvar, grad)); err != nil {
			panic(err)
		}
		for j := 0; j < nvar; j++ {
			beta[j] += step.AtVec(j)
		}
	}

	return beta
}

// With uniform unit weights and a trivial design the fit must match an
// ordinary unweighted logistic regression.
func TestUniformWeightMatchesOrdinaryFit(t *testing.T) {

	uw := make([]float64, 16)
	for i := range uw {
		uw[i] = 1
	}
	d := fitData(t, uw)
	ds := d.Dataset()

	rslt, err := NewLogistic(d, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	konst, _ := ds.Column("const")
	x1, _ := ds.Column("x1")
	x2, _ := ds.Column("x2")
	yda, _ := ds.Column("y")
	ref := refLogistic([][]float64{konst, x1, x2}, yda)

	if !slicesClose(rslt.Params(), ref, 1e-6) {
		t.Errorf("params %v != reference %v", rslt.Params(), ref)
	}
}

// With overlapping classes IRLS converges well within its iteration
// budget to bounded estimates.
func TestFitFiniteEstimates(t *testing.T) {

	d := fitData(t, nil)

	rslt, err := NewLogistic(d, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	assert.Less(t, rslt.NumIter(), 25)
	for _, b := range rslt.Params() {
		assert.Less(t, math.Abs(b), 10.0)
	}
	assert.Greater(t, rslt.Deviance(), 1.0)
}

// The fitted parameters must satisfy the weighted score equations.
func TestScoreEquationsAtSolution(t *testing.T) {

	d := fitData(t, nil)
	ds := d.Dataset()

	rslt, err := NewLogistic(d, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	params := rslt.Params()
	yda, _ := ds.Column("y")
	wgt := d.Weights()

	xdat := make([][]float64, 3)
	for j, na := range []string{"const", "x1", "x2"} {
		xdat[j], _ = ds.Column(na)
	}

	for j := range xdat {
		var score float64
		for i := range yda {
			var lp float64
			for k := range xdat {
				lp += params[k] * xdat[k][i]
			}
			mu := 1 / (1 + math.Exp(-lp))
			score += wgt[i] * (yda[i] - mu) * xdat[j][i]
		}
		if !scalarClose(score, 0, 1e-5) {
			t.Errorf("score equation %d not satisfied: %v", j, score)
		}
	}
}

// Intercept-only model: the fitted mean is the weighted outcome mean.
func TestInterceptOnlyClosedForm(t *testing.T) {

	d := fitData(t, nil)
	ds := d.Dataset()

	rslt, err := NewLogistic(d, "y").Predictors("const").Done().Fit()
	require.NoError(t, err)

	yda, _ := ds.Column("y")
	wgt := d.Weights()
	var sy, sw float64
	for i := range yda {
		sy += wgt[i] * yda[i]
		sw += wgt[i]
	}
	p := sy / sw
	want := math.Log(p / (1 - p))

	if !scalarClose(rslt.Params()[0], want, 1e-8) {
		t.Errorf("intercept %v != logit of weighted mean %v", rslt.Params()[0], want)
	}
}

// Rescaling all weights by a constant changes neither the estimates nor
// the design-based standard errors.
func TestWeightScaleInvariance(t *testing.T) {

	d1 := fitData(t, nil)
	r1, err := NewLogistic(d1, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	w2 := append([]float64(nil), d1.Weights()...)
	for i := range w2 {
		w2[i] *= 7
	}
	d2 := fitData(t, w2)
	r2, err := NewLogistic(d2, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	if !slicesClose(r1.Params(), r2.Params(), 1e-6) {
		t.Errorf("params changed under weight rescaling: %v vs %v", r1.Params(), r2.Params())
	}
	if !slicesClose(r1.StdErr(), r2.StdErr(), 1e-6) {
		t.Errorf("design-based SE changed under weight rescaling: %v vs %v", r1.StdErr(), r2.StdErr())
	}
}

func TestOddsRatioTable(t *testing.T) {

	d := fitData(t, nil)
	rslt, err := NewLogistic(d, "y").Predictors("const", "x1", "x2").Done().Fit()
	require.NoError(t, err)

	params := rslt.Params()
	or := rslt.OddsRatios()
	for j := range params {
		assert.InDelta(t, math.Exp(params[j]), or[j], 1e-12)
	}

	lcb, ucb := rslt.ConfInt(0.95)
	rows := rslt.CoefTable(0.95)
	for j, r := range rows {
		assert.Greater(t, r.Upper, r.Lower)

		// Symmetric in log-odds space.
		lo := params[j] - lcb[j]
		hi := ucb[j] - params[j]
		assert.InDelta(t, lo, hi, 1e-10)

		assert.InDelta(t, math.Exp(lcb[j]), r.Lower, 1e-10)
		assert.InDelta(t, math.Exp(ucb[j]), r.Upper, 1e-10)
	}

	assert.Contains(t, rslt.Summary(), "Variable")
}

func TestCollinearPredictors(t *testing.T) {

	d := fitData(t, nil)
	ds := d.Dataset()

	// Duplicate x1 under another name.
	x1, _ := ds.Column("x1")
	names := append(append([]string(nil), ds.Names()...), "x1b")
	var cols [][]float64
	var types []dataset.ColType
	for _, na := range ds.Names() {
		c, _ := ds.Column(na)
		cols = append(cols, c)
		ty, _ := ds.TypeOf(na)
		types = append(types, ty)
	}
	cols = append(cols, x1)
	types = append(types, dataset.Continuous)

	ds2, err := dataset.New(names, types, cols)
	require.NoError(t, err)
	d2, err := NewDesign(ds2, "strat", "psu", "wgt")
	require.NoError(t, err)

	_, err = NewLogistic(d2, "y").Predictors("const", "x1", "x1b").Done().Fit()
	var serr *SingularMatrixError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "y", serr.Outcome)
}

func TestPerfectSeparation(t *testing.T) {

	n := 16
	y := make([]float64, n)
	x := make([]float64, n)
	konst := make([]float64, n)
	strat := make([]float64, n)
	psu := make([]float64, n)
	wgt := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = float64(i) - float64(n)/2 + 0.5
		if x[i] > 0 {
			y[i] = 1
		}
		konst[i] = 1
		strat[i] = 1
		psu[i] = float64(i)
		wgt[i] = 1
	}

	ds, err := dataset.New(
		[]string{"y", "const", "x", "strat", "psu", "wgt"},
		[]dataset.ColType{
			dataset.Continuous, dataset.Continuous, dataset.Continuous,
			dataset.Categorical, dataset.Categorical, dataset.Continuous,
		},
		[][]float64{y, konst, x, strat, psu, wgt},
	)
	require.NoError(t, err)
	d, err := NewDesign(ds, "strat", "psu", "wgt")
	require.NoError(t, err)

	_, err = NewLogistic(d, "y").Predictors("const", "x").Done().Fit()
	require.Error(t, err)

	var cerr *ConvergenceError
	var serr *SingularMatrixError
	if !errors.As(err, &cerr) && !errors.As(err, &serr) {
		t.Errorf("got %T, want ConvergenceError or SingularMatrixError", err)
	}
}

func TestFitConfigErrors(t *testing.T) {

	d := fitData(t, nil)

	var derr *dataset.DataError

	_, err := NewLogistic(d, "nope").Predictors("const").Done().Fit()
	require.ErrorAs(t, err, &derr)

	_, err = NewLogistic(d, "y").Predictors("const", "nope").Done().Fit()
	require.ErrorAs(t, err, &derr)

	// Non-binary outcome.
	_, err = NewLogistic(d, "x1").Predictors("const").Done().Fit()
	require.ErrorAs(t, err, &derr)
}
