package survey

import (
	"gonum.org/v1/gonum/mat"
)

// sandwich computes the Taylor-series linearized covariance of the
// parameter estimates.  Per-observation weighted score contributions are
// totaled within PSUs, centered within strata, combined with the
// finite-stratum correction nh/(nh-1), and wrapped in the inverse
// information matrix (the bread).
func sandwich(d *Design, xdat [][]float64, y, mn []float64, bread []float64) []float64 {

	nvar := len(xdat)
	wgt := d.Weights()

	meat := make([]float64, nvar*nvar)
	zhk := make([]float64, nvar)
	zbar := make([]float64, nvar)

	for _, st := range d.strata {

		nh := float64(len(st.psus))

		// Per-PSU score totals and the stratum mean.
		ztot := make([][]float64, len(st.psus))
		zero(zbar)
		for k, u := range st.psus {
			zero(zhk)
			for _, i := range u.rows {
				f := wgt[i] * (y[i] - mn[i])
				for j := range xdat {
					zhk[j] += f * xdat[j][i]
				}
			}
			ztot[k] = append([]float64(nil), zhk...)
			for j := range zbar {
				zbar[j] += zhk[j] / nh
			}
		}

		// Centered between-PSU cross products with the finite-stratum
		// degrees-of-freedom correction.
		fac := nh / (nh - 1)
		for _, z := range ztot {
			for j1 := 0; j1 < nvar; j1++ {
				d1 := z[j1] - zbar[j1]
				for j2 := 0; j2 <= j1; j2++ {
					d2 := z[j2] - zbar[j2]
					meat[j1*nvar+j2] += fac * d1 * d2
				}
			}
		}
	}

	for j1 := 0; j1 < nvar; j1++ {
		for j2 := j1 + 1; j2 < nvar; j2++ {
			meat[j1*nvar+j2] = meat[j2*nvar+j1]
		}
	}

	bm := mat.NewDense(nvar, nvar, bread)
	mm := mat.NewDense(nvar, nvar, meat)

	var t, v mat.Dense
	t.Mul(mm, bm)
	v.Mul(bm, &t)

	out := make([]float64, nvar*nvar)
	for j1 := 0; j1 < nvar; j1++ {
		for j2 := 0; j2 < nvar; j2++ {
			out[j1*nvar+j2] = v.At(j1, j2)
		}
	}

	return out
}
