// Package dataset provides a minimal named-column table over a gonum matrix.
//
// A Dataset is what the pipeline splits: every column is numeric and one of them
// is chosen as the binary target when the split is made.
package dataset

import (
	"fmt"

	scierrors "github.com/YuminosukeSato/imbalanced/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dataset is an in-memory table of float64 columns with unique names.
type Dataset struct {
	columns []string
	index   map[string]int
	data    *mat.Dense
}

// New wraps data with the given column names. The matrix is not copied.
func New(columns []string, data *mat.Dense) (*Dataset, error) {
	if data == nil || data.IsEmpty() {
		return nil, scierrors.Wrap(scierrors.ErrEmptyData, "dataset.New")
	}
	_, c := data.Dims()
	if len(columns) != c {
		return nil, scierrors.NewDimensionError("dataset.New", c, len(columns), 1)
	}

	index := make(map[string]int, len(columns))
	for i, name := range columns {
		if _, dup := index[name]; dup {
			return nil, scierrors.NewValueError("dataset.New", fmt.Sprintf("duplicate column name %q", name))
		}
		index[name] = i
	}

	return &Dataset{
		columns: append([]string(nil), columns...),
		index:   index,
		data:    data,
	}, nil
}

// FromRows builds a Dataset from row-major records.
func FromRows(columns []string, rows [][]float64) (*Dataset, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return nil, scierrors.Wrap(scierrors.ErrEmptyData, "dataset.FromRows")
	}
	data := mat.NewDense(len(rows), len(columns), nil)
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, scierrors.NewValueError("dataset.FromRows",
				fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(columns)))
		}
		data.SetRow(i, row)
	}
	return New(columns, data)
}

// Columns returns a copy of the column names in order.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.columns...)
}

// Dims returns the number of rows and columns.
func (d *Dataset) Dims() (rows, cols int) {
	return d.data.Dims()
}

// Has reports whether the dataset contains the named column.
func (d *Dataset) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns a copy of the named column.
func (d *Dataset) Column(name string) ([]float64, error) {
	j, ok := d.index[name]
	if !ok {
		return nil, scierrors.NewValueError("dataset.Column", fmt.Sprintf("column %q not found", name))
	}
	return mat.Col(nil, j, d.data), nil
}

// FeatureNames returns every column name except target, in order.
func (d *Dataset) FeatureNames(target string) []string {
	names := make([]string, 0, len(d.columns))
	for _, name := range d.columns {
		if name != target {
			names = append(names, name)
		}
	}
	return names
}

// XY splits the dataset into a feature matrix (all columns but target) and an
// n x 1 label matrix. Both are fresh copies.
func (d *Dataset) XY(target string) (X, y *mat.Dense, featureNames []string, err error) {
	t, ok := d.index[target]
	if !ok {
		return nil, nil, nil, scierrors.NewValueError("dataset.XY", fmt.Sprintf("target column %q not found", target))
	}

	rows, cols := d.data.Dims()
	if cols < 2 {
		return nil, nil, nil, scierrors.NewValueError("dataset.XY", "dataset has no feature columns")
	}

	featureNames = d.FeatureNames(target)
	X = mat.NewDense(rows, cols-1, nil)
	y = mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		k := 0
		for j := 0; j < cols; j++ {
			v := d.data.At(i, j)
			if j == t {
				y.Set(i, 0, v)
				continue
			}
			X.Set(i, k, v)
			k++
		}
	}
	return X, y, featureNames, nil
}
