package survey

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// LogisticResults contains the results after fitting a Logistic model.
type LogisticResults struct {
	model  *Logistic
	params []float64
	xnames []string

	// Design-based (linearized) covariance, vectorized.
	vcov []float64

	// Model-based covariance from the inverse information, vectorized.
	naive []float64

	loglike float64
	dev     float64
	iters   int

	stderr  []float64
	zscores []float64
	pvalues []float64
}

// Names returns the covariate names for the variables in the model.
func (rslt *LogisticResults) Names() []string {
	return rslt.xnames
}

// Params returns the point estimates for the parameters, on the log-odds
// scale.
func (rslt *LogisticResults) Params() []float64 {
	return rslt.params
}

// VCov returns the design-based sampling covariance of the parameters,
// vectorized to one dimension.
func (rslt *LogisticResults) VCov() []float64 {
	return rslt.vcov
}

// NaiveVCov returns the model-based covariance from the inverse
// information matrix, vectorized to one dimension.  It does not account
// for the survey design.
func (rslt *LogisticResults) NaiveVCov() []float64 {
	return rslt.naive
}

// LogLike returns the weighted log-likelihood at the fitted parameters.
func (rslt *LogisticResults) LogLike() float64 {
	return rslt.loglike
}

// Deviance returns the weighted deviance at the fitted parameters.
func (rslt *LogisticResults) Deviance() float64 {
	return rslt.dev
}

// NumIter returns the number of IRLS iterations used by the fit.
func (rslt *LogisticResults) NumIter() int {
	return rslt.iters
}

// StdErr returns the design-based standard errors for the parameters.
func (rslt *LogisticResults) StdErr() []float64 {

	p := len(rslt.params)
	if rslt.stderr != nil {
		return rslt.stderr
	}
	rslt.stderr = make([]float64, p)

	for i := range rslt.stderr {
		rslt.stderr[i] = math.Sqrt(rslt.vcov[i*p+i])
	}

	return rslt.stderr
}

// ZScores returns the parameter estimates divided by their design-based
// standard errors.
func (rslt *LogisticResults) ZScores() []float64 {

	if rslt.zscores != nil {
		return rslt.zscores
	}
	rslt.zscores = make([]float64, len(rslt.params))

	std := rslt.StdErr()
	for i := range std {
		rslt.zscores[i] = rslt.params[i] / std[i]
	}

	return rslt.zscores
}

func normcdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt(2))
}

// PValues returns the p-values for the null hypothesis that each
// parameter's population value is equal to zero.
func (rslt *LogisticResults) PValues() []float64 {

	if rslt.pvalues != nil {
		return rslt.pvalues
	}
	rslt.pvalues = make([]float64, len(rslt.params))

	for i, z := range rslt.ZScores() {
		rslt.pvalues[i] = 2 * normcdf(-math.Abs(z))
	}

	return rslt.pvalues
}

// OddsRatios returns exp(coefficient) for each parameter.
func (rslt *LogisticResults) OddsRatios() []float64 {
	or := make([]float64, len(rslt.params))
	for i, b := range rslt.params {
		or[i] = math.Exp(b)
	}
	return or
}

// ConfInt returns confidence limits for the parameters on the log-odds
// scale at the given level, e.g. 0.95.  The intervals are symmetric
// around the point estimates.
func (rslt *LogisticResults) ConfInt(level float64) (lower, upper []float64) {

	if level <= 0 || level >= 1 {
		panic(fmt.Sprintf("survey: invalid confidence level %v", level))
	}

	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	std := rslt.StdErr()

	lower = make([]float64, len(rslt.params))
	upper = make([]float64, len(rslt.params))
	for i, b := range rslt.params {
		lower[i] = b - z*std[i]
		upper[i] = b + z*std[i]
	}

	return lower, upper
}

// CoefRow is one row of the odds-ratio table consumed by the reporting
// layer.
type CoefRow struct {
	Name      string
	OddsRatio float64
	Lower     float64
	Upper     float64
	PValue    float64
}

// CoefTable returns the odds ratios with exponentiated confidence limits
// at the given level.
func (rslt *LogisticResults) CoefTable(level float64) []CoefRow {

	lcb, ucb := rslt.ConfInt(level)
	pv := rslt.PValues()

	rows := make([]CoefRow, len(rslt.params))
	for i := range rslt.params {
		rows[i] = CoefRow{
			Name:      rslt.xnames[i],
			OddsRatio: math.Exp(rslt.params[i]),
			Lower:     math.Exp(lcb[i]),
			Upper:     math.Exp(ucb[i]),
			PValue:    pv[i],
		}
	}

	return rows
}

// Summary returns a string summarizing the fitted model, with parameters
// shown on the odds-ratio scale.
func (rslt *LogisticResults) Summary() string {

	var buf bytes.Buffer

	title := "Design-based logistic regression analysis"
	width := 72
	k := (width - len(title)) / 2
	if k < 0 {
		k = 0
	}
	buf.WriteString(strings.Repeat(" ", k) + title + "\n")
	buf.WriteString(strings.Repeat("=", width) + "\n")

	d := rslt.model.design
	buf.WriteString(fmt.Sprintf("Outcome: %-20s Num obs: %d\n", rslt.model.yname, d.Dataset().NumObs()))
	buf.WriteString(fmt.Sprintf("Strata:  %-20d PSUs:    %d\n", d.NumStrata(), d.NumPSU()))
	buf.WriteString(fmt.Sprintf("Deviance: %.4f\n", rslt.dev))
	buf.WriteString(strings.Repeat("-", width) + "\n")

	buf.WriteString(fmt.Sprintf("%-16s %10s %10s %10s %10s %10s\n",
		"Variable", "OR", "LCB", "UCB", "Z-score", "P-value"))
	buf.WriteString(strings.Repeat("-", width) + "\n")

	rows := rslt.CoefTable(0.95)
	zs := rslt.ZScores()
	for i, r := range rows {
		buf.WriteString(fmt.Sprintf("%-16s %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			r.Name, r.OddsRatio, r.Lower, r.Upper, zs[i], r.PValue))
	}
	buf.WriteString(strings.Repeat("-", width) + "\n")
	buf.WriteString("Confidence limits use the design-based (linearized) standard errors.\n")

	return buf.String()
}
