package survey

import "math"

// Bound mean values away from 0 and 1 so the logit and its derivatives
// stay finite.
const muEps = 1e-10

// logitFunc maps mean values to the linear predictor scale.
func logitFunc(mn, lp []float64) {
	for i := range mn {
		r := mn[i] / (1 - mn[i])
		lp[i] = math.Log(r)
	}
}

// expitFunc maps linear predictor values to mean values, bounded away
// from 0 and 1.
func expitFunc(lp, mn []float64) {
	for i := range lp {
		mn[i] = 1 / (1 + math.Exp(-lp[i]))
		if mn[i] < muEps {
			mn[i] = muEps
		} else if mn[i] > 1-muEps {
			mn[i] = 1 - muEps
		}
	}
}

// logitDeriv computes the derivative d eta / d mu of the logit link.
func logitDeriv(mn, deriv []float64) {
	for i := range mn {
		deriv[i] = 1 / (mn[i] * (1 - mn[i]))
	}
}

// binomialVar computes the binomial variance function mu*(1-mu).
func binomialVar(mn, va []float64) {
	for i := range mn {
		va[i] = mn[i] * (1 - mn[i])
	}
}

// binomialLogLike returns the weighted binomial log-likelihood.
func binomialLogLike(y, mn, wgt []float64) float64 {
	var ll float64
	for i := range y {
		r := mn[i]/(1-mn[i]) + 1e-200
		ll += wgt[i] * (y[i]*math.Log(r) + math.Log(1-mn[i]))
	}
	return ll
}

// binomialDeviance returns the weighted binomial deviance.
func binomialDeviance(y, mn, wgt []float64) float64 {
	var dev float64
	for i := range y {
		dev -= 2 * wgt[i] * (y[i]*math.Log(mn[i]) + (1-y[i])*math.Log(1-mn[i]))
	}
	return dev
}
