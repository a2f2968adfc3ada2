package survey

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ehs-analytics/renalstat/dataset"
)

// ConvergenceError indicates that IRLS exhausted its iteration or
// step-halving budget without converging.
type ConvergenceError struct {

	// Outcome is the outcome variable of the model being fit.
	Outcome string

	// Iters is the number of IRLS iterations performed.
	Iters int

	// Halvings is the number of step halvings attempted in the final
	// iteration.
	Halvings int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("survey: IRLS for outcome %q did not converge after %d iterations (%d step halvings)",
		e.Outcome, e.Iters, e.Halvings)
}

// SingularMatrixError indicates that the weighted information matrix is
// not invertible, typically due to collinear covariates or near-perfect
// separation.
type SingularMatrixError struct {

	// Outcome is the outcome variable of the model being fit.
	Outcome string

	// Iter is the IRLS iteration in which the failure occurred, or -1
	// when the failure occurred after fitting.
	Iter int

	// Err is the underlying linear algebra error.
	Err error
}

func (e *SingularMatrixError) Error() string {
	if e.Iter >= 0 {
		return fmt.Sprintf("survey: singular weighted information matrix for outcome %q at IRLS iteration %d: %v",
			e.Outcome, e.Iter, e.Err)
	}
	return fmt.Sprintf("survey: singular weighted information matrix for outcome %q: %v", e.Outcome, e.Err)
}

func (e *SingularMatrixError) Unwrap() error { return e.Err }

// Logistic represents a binomial-logit regression model fit to a complex
// survey design.  Configure the model with chained setters and complete
// it with Done before calling Fit.
//
// The model does not add an intercept; include a constant column among
// the predictors to fit one.
type Logistic struct {
	design *Design

	// Name and position of the outcome variable.
	yname string
	ypos  int

	// Names and positions of the covariates.
	xnames []string
	xpos   []int

	// Starting values, optional.
	start []float64

	// Fitting controls.
	maxIter     int
	tol         float64
	maxHalvings int

	// If not nil, write log messages here.
	log *log.Logger

	// Deferred configuration error, surfaced by Fit.
	err error
}

// NewLogistic creates a logistic model for the given design and outcome
// variable.  The outcome must be coded 0/1.
func NewLogistic(design *Design, outcome string) *Logistic {
	return &Logistic{
		design:      design,
		yname:       outcome,
		maxIter:     25,
		tol:         1e-8,
		maxHalvings: 8,
	}
}

// Predictors sets the covariates of the model.
func (m *Logistic) Predictors(names ...string) *Logistic {
	m.xnames = names
	return m
}

// Start sets starting values for IRLS.
func (m *Logistic) Start(start []float64) *Logistic {
	m.start = start
	return m
}

// Log takes a Logger value that will be used to log the progress of the
// fit.
func (m *Logistic) Log(log *log.Logger) *Logistic {
	m.log = log
	return m
}

// MaxIter sets the IRLS iteration budget.
func (m *Logistic) MaxIter(n int) *Logistic {
	m.maxIter = n
	return m
}

// Tol sets the convergence tolerance for the maximum coefficient change.
func (m *Logistic) Tol(tol float64) *Logistic {
	m.tol = tol
	return m
}

// NumParams returns the number of covariates in the model.
func (m *Logistic) NumParams() int {
	return len(m.xpos)
}

// Done completes the definition of the model by resolving the outcome and
// covariate columns.  Configuration problems are surfaced by Fit.
func (m *Logistic) Done() *Logistic {

	if len(m.xnames) == 0 {
		panic("survey: Predictors must be called before Done")
	}

	ds := m.design.Dataset()

	ypos, ok := ds.Pos(m.yname)
	if !ok {
		m.err = &dataset.DataError{Op: "survey.Logistic", Column: m.yname, Row: -1, Msg: "outcome variable not found"}
		return m
	}
	m.ypos = ypos

	m.xpos = m.xpos[0:0]
	for _, na := range m.xnames {
		j, ok := ds.Pos(na)
		if !ok {
			m.err = &dataset.DataError{Op: "survey.Logistic", Column: na, Row: -1, Msg: "predictor variable not found"}
			return m
		}
		m.xpos = append(m.xpos, j)
	}

	for i, v := range ds.ColumnAt(ypos) {
		if v != 0 && v != 1 {
			m.err = &dataset.DataError{
				Op:     "survey.Logistic",
				Column: m.yname,
				Row:    i,
				Msg:    fmt.Sprintf("outcome value %v is not 0/1", v),
			}
			return m
		}
	}

	if m.start != nil && len(m.start) != len(m.xpos) {
		m.err = &dataset.DataError{
			Op:  "survey.Logistic",
			Row: -1,
			Msg: fmt.Sprintf("got %d starting values for %d covariates", len(m.start), len(m.xpos)),
		}
	}

	return m
}

// Fit estimates the model parameters by IRLS and returns the results,
// including both the design-based (linearized) and the model-based
// covariance of the estimates.
func (m *Logistic) Fit() (*LogisticResults, error) {

	if m.err != nil {
		return nil, m.err
	}
	if len(m.xpos) == 0 {
		panic("survey: Done must be called before Fit")
	}

	ds := m.design.Dataset()
	n := ds.NumObs()
	nvar := len(m.xpos)

	yda := ds.ColumnAt(m.ypos)
	wgt := m.design.Weights()

	xdat := make([][]float64, nvar)
	for j, k := range m.xpos {
		xdat[j] = ds.ColumnAt(k)
	}

	linpred := make([]float64, n)
	mn := make([]float64, n)
	va := make([]float64, n)
	deriv := make([]float64, n)
	irlsw := make([]float64, n)
	adjy := make([]float64, n)

	xty := make([]float64, nvar)
	xtx := make([]float64, nvar*nvar)

	params := make([]float64, nvar)
	if m.start != nil {
		copy(params, m.start)
	}
	prop := make([]float64, nvar)

	updateMean := func(coeff []float64) {
		zero(linpred)
		for j := range xdat {
			for i := range linpred {
				linpred[i] += coeff[j] * xdat[j][i]
			}
		}
		expitFunc(linpred, mn)
	}

	updateMean(params)
	dev := binomialDeviance(yda, mn, wgt)

	var converged bool
	var iter int

	for iter = 0; iter < m.maxIter; iter++ {

		logitDeriv(mn, deriv)
		binomialVar(mn, va)

		// Weights and adjusted response for the WLS step.
		for i := range yda {
			irlsw[i] = wgt[i] / (deriv[i] * deriv[i] * va[i])
			adjy[i] = linpred[i] + deriv[i]*(yda[i]-mn[i])
		}

		// Weighted moment matrices.
		zero(xtx)
		zero(xty)
		for j1 := range xdat {
			xda := xdat[j1]
			var u float64
			for i := range adjy {
				u += adjy[i] * xda[i] * irlsw[i]
			}
			xty[j1] = u

			for j2 := 0; j2 <= j1; j2++ {
				xdb := xdat[j2]
				var v float64
				for i := range xda {
					v += xda[i] * xdb[i] * irlsw[i]
				}
				xtx[j1*nvar+j2] = v
				xtx[j2*nvar+j1] = v
			}
		}

		xtxm := mat.NewDense(nvar, nvar, xtx)
		xtyv := mat.NewVecDense(nvar, xty)
		var nparam mat.VecDense
		if err := nparam.SolveVec(xtxm, xtyv); err != nil {
			return nil, &SingularMatrixError{Outcome: m.yname, Iter: iter, Err: err}
		}
		copy(prop, nparam.RawVector().Data)

		// If the deviance increases, halve the Newton step a bounded
		// number of times before giving up.
		updateMean(prop)
		devNew := binomialDeviance(yda, mn, wgt)
		var nh int
		for nh = 0; devNew > dev+m.tol && nh < m.maxHalvings; nh++ {
			for j := range prop {
				prop[j] = (prop[j] + params[j]) / 2
			}
			updateMean(prop)
			devNew = binomialDeviance(yda, mn, wgt)
		}
		if devNew > dev+m.tol {
			return nil, &ConvergenceError{Outcome: m.yname, Iters: iter + 1, Halvings: nh}
		}

		var dmax float64
		for j := range prop {
			if d := math.Abs(prop[j] - params[j]); d > dmax {
				dmax = d
			}
		}
		copy(params, prop)
		dev = devNew

		if m.log != nil {
			m.log.Printf("iteration %d: deviance=%.10f max coefficient change=%.3e", iter+1, dev, dmax)
		}

		if dmax < m.tol {
			converged = true
			iter++
			break
		}
	}

	if !converged {
		return nil, &ConvergenceError{Outcome: m.yname, Iters: iter}
	}
	if m.log != nil {
		m.log.Print("IRLS converged")
	}

	// The expected weighted information matrix at the solution.  For
	// the logit link the WLS moment matrix already is the information,
	// so rebuild it at the final parameter values.
	updateMean(params)
	logitDeriv(mn, deriv)
	binomialVar(mn, va)
	for i := range yda {
		irlsw[i] = wgt[i] / (deriv[i] * deriv[i] * va[i])
	}
	info := make([]float64, nvar*nvar)
	for j1 := range xdat {
		for j2 := 0; j2 <= j1; j2++ {
			var v float64
			for i := range xdat[j1] {
				v += xdat[j1][i] * xdat[j2][i] * irlsw[i]
			}
			info[j1*nvar+j2] = v
			info[j2*nvar+j1] = v
		}
	}

	naive, err := invertSym(info, nvar)
	if err != nil {
		return nil, &SingularMatrixError{Outcome: m.yname, Iter: -1, Err: err}
	}

	vcov := sandwich(m.design, xdat, yda, mn, naive)

	ll := binomialLogLike(yda, mn, wgt)

	return &LogisticResults{
		model:   m,
		params:  params,
		xnames:  m.xnames,
		vcov:    vcov,
		naive:   naive,
		loglike: ll,
		dev:     dev,
		iters:   iter,
	}, nil
}

// invertSym inverts the vectorized nvar x nvar matrix a.
func invertSym(a []float64, nvar int) ([]float64, error) {
	am := mat.NewDense(nvar, nvar, a)
	inv := make([]float64, nvar*nvar)
	invm := mat.NewDense(nvar, nvar, inv)
	if err := invm.Inverse(am); err != nil {
		return nil, err
	}
	return inv, nil
}

// zero sets all elements of the slice to 0.
func zero(x []float64) {
	for i := range x {
		x[i] = 0
	}
}
