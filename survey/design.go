/*
Package survey fits design-consistent weighted logistic regression models
for complex multistage samples.

A Design links a dataset to its stratum, primary sampling unit (PSU), and
sampling weight columns.  The Logistic model is fit by iteratively
reweighted least squares on the weighted log-likelihood, and its sampling
covariance is estimated by Taylor-series linearization: per-PSU score
totals are centered within strata and combined with a finite-stratum
degrees-of-freedom correction.
*/
package survey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehs-analytics/renalstat/dataset"
)

// DesignError indicates a degenerate stratification, i.e. one or more
// strata with fewer than two PSUs, for which the linearized variance
// cannot be estimated.
type DesignError struct {

	// StrataCol is the stratum column of the design.
	StrataCol string

	// Strata holds the identifiers of the degenerate strata.
	Strata []float64
}

func (e *DesignError) Error() string {
	var b []string
	for _, s := range e.Strata {
		b = append(b, fmt.Sprintf("%v", s))
	}
	return fmt.Sprintf("survey: column %q: strata [%s] have fewer than 2 PSUs; variance estimation requires at least 2 PSUs per stratum",
		e.StrataCol, strings.Join(b, " "))
}

// psu holds the rows belonging to one primary sampling unit.
type psu struct {
	id   float64
	rows []int
}

// stratum holds the PSUs belonging to one stratum.
type stratum struct {
	id   float64
	psus []psu
}

// Design describes a stratified cluster sampling design over a dataset.
type Design struct {
	ds *dataset.Dataset

	strataName string
	psuName    string
	weightName string

	weightPos int

	// Strata ordered by stratum identifier, each with its PSUs ordered
	// by PSU identifier.
	strata []stratum
}

// NewDesign builds the survey design metadata for the given dataset.  It
// fails with a DataError if a linkage column is missing or any weight is
// not strictly positive, and with a DesignError if any stratum contains
// fewer than two PSUs.
func NewDesign(ds *dataset.Dataset, strataCol, psuCol, weightCol string) (*Design, error) {

	sPos, ok := ds.Pos(strataCol)
	if !ok {
		return nil, &dataset.DataError{Op: "survey.NewDesign", Column: strataCol, Row: -1, Msg: "stratum column not found"}
	}
	pPos, ok := ds.Pos(psuCol)
	if !ok {
		return nil, &dataset.DataError{Op: "survey.NewDesign", Column: psuCol, Row: -1, Msg: "PSU column not found"}
	}
	wPos, ok := ds.Pos(weightCol)
	if !ok {
		return nil, &dataset.DataError{Op: "survey.NewDesign", Column: weightCol, Row: -1, Msg: "weight column not found"}
	}

	wgt := ds.ColumnAt(wPos)
	for i, w := range wgt {
		if !(w > 0) {
			return nil, &dataset.DataError{
				Op:     "survey.NewDesign",
				Column: weightCol,
				Row:    i,
				Msg:    fmt.Sprintf("sampling weight %v is not positive", w),
			}
		}
	}

	// Group rows by stratum, then by PSU within stratum.
	sda := ds.ColumnAt(sPos)
	pda := ds.ColumnAt(pPos)

	type key struct{ s, p float64 }
	groups := make(map[key][]int)
	for i := range sda {
		k := key{sda[i], pda[i]}
		groups[k] = append(groups[k], i)
	}

	bystr := make(map[float64][]psu)
	for k, rows := range groups {
		bystr[k.s] = append(bystr[k.s], psu{id: k.p, rows: rows})
	}

	var strata []stratum
	for sid, psus := range bystr {
		sort.Slice(psus, func(i, j int) bool { return psus[i].id < psus[j].id })
		strata = append(strata, stratum{id: sid, psus: psus})
	}
	sort.Slice(strata, func(i, j int) bool { return strata[i].id < strata[j].id })

	var bad []float64
	for _, st := range strata {
		if len(st.psus) < 2 {
			bad = append(bad, st.id)
		}
	}
	if len(bad) > 0 {
		return nil, &DesignError{StrataCol: strataCol, Strata: bad}
	}

	return &Design{
		ds:         ds,
		strataName: strataCol,
		psuName:    psuCol,
		weightName: weightCol,
		weightPos:  wPos,
		strata:     strata,
	}, nil
}

// Dataset returns the dataset underlying the design.
func (d *Design) Dataset() *dataset.Dataset {
	return d.ds
}

// Weights returns the sampling weight column.  The returned slice must
// not be modified.
func (d *Design) Weights() []float64 {
	return d.ds.ColumnAt(d.weightPos)
}

// NumStrata returns the number of strata in the design.
func (d *Design) NumStrata() int {
	return len(d.strata)
}

// NumPSU returns the total number of PSUs across all strata.
func (d *Design) NumPSU() int {
	n := 0
	for _, st := range d.strata {
		n += len(st.psus)
	}
	return n
}
