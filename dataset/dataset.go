/*
Package dataset defines the tabular data contract shared by the survey
regression and random forest tracks.

A Dataset holds column-major float64 data together with a declared schema
(column name and type).  It is produced once by an upstream ingestion step
and is never mutated by the analytic code in this module.
*/
package dataset

import (
	"fmt"
)

// ColType declares how a column is interpreted by the models.
type ColType uint8

// Continuous columns are real-valued measurements; Categorical columns
// hold numeric level codes.
const (
	Continuous ColType = iota
	Categorical
)

// String returns the name of the column type.
func (t ColType) String() string {
	switch t {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("ColType(%d)", int(t))
	}
}

// DataError indicates missing or invalid columns, or invalid cell values
// such as non-positive sampling weights.
type DataError struct {

	// Op is the operation that failed, e.g. "dataset.New".
	Op string

	// Column is the offending column, if known.
	Column string

	// Row is the offending row, or -1 when the error is not row-specific.
	Row int

	// Msg describes the problem.
	Msg string
}

func (e *DataError) Error() string {
	s := e.Op + ": " + e.Msg
	if e.Column != "" {
		s += fmt.Sprintf(" (column %q", e.Column)
		if e.Row >= 0 {
			s += fmt.Sprintf(", row %d", e.Row)
		}
		s += ")"
	}
	return s
}

// Dataset is an immutable column-major table with a declared schema.
type Dataset struct {
	names []string
	types []ColType
	pos   map[string]int
	cols  [][]float64
	nobs  int
}

// New constructs a Dataset from parallel slices of column names, column
// types, and column data.  All columns must have the same length, and
// names must be non-empty and unique.
func New(names []string, types []ColType, cols [][]float64) (*Dataset, error) {

	if len(names) != len(cols) || len(names) != len(types) {
		return nil, &DataError{
			Op:  "dataset.New",
			Row: -1,
			Msg: fmt.Sprintf("got %d names, %d types, %d columns", len(names), len(types), len(cols)),
		}
	}
	if len(names) == 0 {
		return nil, &DataError{Op: "dataset.New", Row: -1, Msg: "no columns"}
	}

	nobs := len(cols[0])
	pos := make(map[string]int, len(names))
	for j, na := range names {
		if na == "" {
			return nil, &DataError{Op: "dataset.New", Row: -1, Msg: fmt.Sprintf("column %d has an empty name", j)}
		}
		if _, ok := pos[na]; ok {
			return nil, &DataError{Op: "dataset.New", Column: na, Row: -1, Msg: "duplicate column name"}
		}
		if len(cols[j]) != nobs {
			return nil, &DataError{
				Op:     "dataset.New",
				Column: na,
				Row:    -1,
				Msg:    fmt.Sprintf("has %d rows, expected %d", len(cols[j]), nobs),
			}
		}
		pos[na] = j
	}

	na := make([]string, len(names))
	copy(na, names)
	ty := make([]ColType, len(types))
	copy(ty, types)

	return &Dataset{
		names: na,
		types: ty,
		pos:   pos,
		cols:  cols,
		nobs:  nobs,
	}, nil
}

// NumObs returns the number of rows.
func (ds *Dataset) NumObs() int {
	return ds.nobs
}

// NumVar returns the number of columns.
func (ds *Dataset) NumVar() int {
	return len(ds.names)
}

// Names returns the column names in order.  The returned slice must not
// be modified.
func (ds *Dataset) Names() []string {
	return ds.names
}

// Pos returns the position of the named column, and whether it exists.
func (ds *Dataset) Pos(name string) (int, bool) {
	j, ok := ds.pos[name]
	return j, ok
}

// TypeOf returns the declared type of the named column, and whether the
// column exists.
func (ds *Dataset) TypeOf(name string) (ColType, bool) {
	j, ok := ds.pos[name]
	if !ok {
		return Continuous, false
	}
	return ds.types[j], true
}

// Column returns the data for the named column and whether it exists.
// The returned slice is the backing storage and must not be modified.
func (ds *Dataset) Column(name string) ([]float64, bool) {
	j, ok := ds.pos[name]
	if !ok {
		return nil, false
	}
	return ds.cols[j], true
}

// ColumnAt returns the data for the column in position j.  The returned
// slice is the backing storage and must not be modified.
func (ds *Dataset) ColumnAt(j int) []float64 {
	return ds.cols[j]
}

// Row copies row i into buf, allocating if buf is too small, and returns
// the filled slice.  Values appear in column order.
func (ds *Dataset) Row(i int, buf []float64) []float64 {
	if cap(buf) < len(ds.cols) {
		buf = make([]float64, len(ds.cols))
	}
	buf = buf[0:len(ds.cols)]
	for j := range ds.cols {
		buf[j] = ds.cols[j][i]
	}
	return buf
}
