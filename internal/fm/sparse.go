// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"fmt"
	"math"
)

// SparseRow is one sample: parallel slices of feature indices and values.
// Indices are unique within a row and values are finite.
type SparseRow struct {
	Indices []int
	Values  []float64
}

// Len returns the number of non-zero features in the row.
func (r SparseRow) Len() int {
	return len(r.Indices)
}

// Matrix is an immutable batch of sparse rows in compressed sparse-row form.
// Row i occupies indices[indptr[i]:indptr[i+1]] and the matching values.
type Matrix struct {
	indptr  []int
	indices []int
	values  []float64
	nCols   int
}

// NewMatrix validates CSR arrays and wraps them without copying.
// The caller must not modify the slices afterwards.
func NewMatrix(indptr, indices []int, values []float64, nCols int) (*Matrix, error) {
	if nCols < 1 {
		return nil, fmt.Errorf("%w: n_cols must be >= 1, got %d", ErrShapeMismatch, nCols)
	}
	if len(indptr) == 0 || indptr[0] != 0 {
		return nil, fmt.Errorf("%w: indptr must start with 0", ErrShapeMismatch)
	}
	if len(indices) != len(values) || indptr[len(indptr)-1] != len(indices) {
		return nil, fmt.Errorf("%w: indptr, indices and values disagree (nnz=%d, values=%d, indptr end=%d)",
			ErrShapeMismatch, len(indices), len(values), indptr[len(indptr)-1])
	}

	// Bounds first so no row slice below can panic.
	for i := 1; i < len(indptr); i++ {
		if indptr[i] < indptr[i-1] || indptr[i] > len(indices) {
			return nil, fmt.Errorf("%w: indptr[%d]=%d outside [%d, %d]",
				ErrShapeMismatch, i, indptr[i], indptr[i-1], len(indices))
		}
	}

	m := &Matrix{indptr: indptr, indices: indices, values: values, nCols: nCols}
	seen := make(map[int]struct{})
	for i := 0; i < m.Rows(); i++ {
		if err := validateRow(m.Row(i), nCols, seen); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		clear(seen)
	}
	return m, nil
}

// FromRows builds a Matrix from individual rows, copying their contents.
func FromRows(rows []SparseRow, nCols int) (*Matrix, error) {
	nnz := 0
	for i := range rows {
		if len(rows[i].Indices) != len(rows[i].Values) {
			return nil, fmt.Errorf("row %d: %w: %d indices but %d values",
				i, ErrShapeMismatch, len(rows[i].Indices), len(rows[i].Values))
		}
		nnz += rows[i].Len()
	}

	indptr := make([]int, 1, len(rows)+1)
	indices := make([]int, 0, nnz)
	values := make([]float64, 0, nnz)
	for i := range rows {
		indices = append(indices, rows[i].Indices...)
		values = append(values, rows[i].Values...)
		indptr = append(indptr, len(indices))
	}
	return NewMatrix(indptr, indices, values, nCols)
}

// FromDense builds a Matrix from row-major dense data, dropping zeros.
// Every row must have the same width.
func FromDense(data [][]float64) (*Matrix, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: dense input has no rows", ErrShapeMismatch)
	}
	nCols := len(data[0])

	indptr := make([]int, 1, len(data)+1)
	var indices []int
	var values []float64
	for i, row := range data {
		if len(row) != nCols {
			return nil, fmt.Errorf("row %d: %w: width %d, want %d", i, ErrShapeMismatch, len(row), nCols)
		}
		for j, v := range row {
			if v == 0 {
				continue
			}
			indices = append(indices, j)
			values = append(values, v)
		}
		indptr = append(indptr, len(indices))
	}
	return NewMatrix(indptr, indices, values, nCols)
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int {
	return len(m.indptr) - 1
}

// Cols returns the feature-space width.
func (m *Matrix) Cols() int {
	return m.nCols
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int {
	return len(m.indices)
}

// CSR returns the matrix's backing arrays. They must not be modified.
func (m *Matrix) CSR() (indptr, indices []int, values []float64) {
	return m.indptr, m.indices, m.values
}

// Row returns a view of row i. The slices alias the matrix storage.
func (m *Matrix) Row(i int) SparseRow {
	lo, hi := m.indptr[i], m.indptr[i+1]
	return SparseRow{Indices: m.indices[lo:hi], Values: m.values[lo:hi]}
}

// Slice returns a view of rows [lo, hi) sharing storage with m.
func (m *Matrix) Slice(lo, hi int) *Matrix {
	base := m.indptr[lo]
	indptr := make([]int, hi-lo+1)
	for i := range indptr {
		indptr[i] = m.indptr[lo+i] - base
	}
	end := m.indptr[hi]
	return &Matrix{
		indptr:  indptr,
		indices: m.indices[base:end],
		values:  m.values[base:end],
		nCols:   m.nCols,
	}
}

func validateRow(row SparseRow, nCols int, seen map[int]struct{}) error {
	for p, j := range row.Indices {
		if j < 0 || j >= nCols {
			return fmt.Errorf("%w: index %d not in [0, %d)", ErrFeatureIndex, j, nCols)
		}
		if _, dup := seen[j]; dup {
			return fmt.Errorf("%w: index %d", ErrDuplicateFeature, j)
		}
		seen[j] = struct{}{}
		if v := row.Values[p]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %d", ErrNonFinite, j)
		}
	}
	return nil
}

// validateFinite rejects NaN or Inf entries in a label or weight vector.
func validateFinite(name string, xs []float64) error {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s[%d]", ErrNonFinite, name, i)
		}
	}
	return nil
}
