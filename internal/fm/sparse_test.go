// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"errors"
	"math"
	"testing"
)

func TestNewMatrix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		indptr  []int
		indices []int
		values  []float64
		nCols   int
		wantErr error
	}{
		{
			name:    "valid two rows",
			indptr:  []int{0, 2, 3},
			indices: []int{0, 2, 1},
			values:  []float64{1, 0.5, -2},
			nCols:   3,
		},
		{
			name:   "empty row allowed",
			indptr: []int{0, 0},
			nCols:  4,
		},
		{
			name:    "zero columns",
			indptr:  []int{0},
			nCols:   0,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "indptr not starting at zero",
			indptr:  []int{1, 2},
			indices: []int{0},
			values:  []float64{1},
			nCols:   2,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "values length mismatch",
			indptr:  []int{0, 2},
			indices: []int{0, 1},
			values:  []float64{1},
			nCols:   2,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "decreasing indptr",
			indptr:  []int{0, 2, 1, 2},
			indices: []int{0, 1},
			values:  []float64{1, 1},
			nCols:   2,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "indptr beyond nnz",
			indptr:  []int{0, 5, 3},
			indices: []int{0, 1, 2},
			values:  []float64{1, 1, 1},
			nCols:   4,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "negative indptr",
			indptr:  []int{0, -1, 1},
			indices: []int{0},
			values:  []float64{1},
			nCols:   2,
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "index out of range",
			indptr:  []int{0, 1},
			indices: []int{5},
			values:  []float64{1},
			nCols:   3,
			wantErr: ErrFeatureIndex,
		},
		{
			name:    "negative index",
			indptr:  []int{0, 1},
			indices: []int{-1},
			values:  []float64{1},
			nCols:   3,
			wantErr: ErrFeatureIndex,
		},
		{
			name:    "duplicate index in row",
			indptr:  []int{0, 2},
			indices: []int{1, 1},
			values:  []float64{1, 2},
			nCols:   3,
			wantErr: ErrDuplicateFeature,
		},
		{
			name:    "same index in different rows",
			indptr:  []int{0, 1, 2},
			indices: []int{1, 1},
			values:  []float64{1, 2},
			nCols:   3,
		},
		{
			name:    "NaN value",
			indptr:  []int{0, 1},
			indices: []int{0},
			values:  []float64{math.NaN()},
			nCols:   1,
			wantErr: ErrNonFinite,
		},
		{
			name:    "Inf value",
			indptr:  []int{0, 1},
			indices: []int{0},
			values:  []float64{math.Inf(-1)},
			nCols:   1,
			wantErr: ErrNonFinite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := NewMatrix(tt.indptr, tt.indices, tt.values, tt.nCols)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewMatrix() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMatrix() unexpected error = %v", err)
			}
			if m.Rows() != len(tt.indptr)-1 {
				t.Errorf("Rows() = %d, want %d", m.Rows(), len(tt.indptr)-1)
			}
			if m.Cols() != tt.nCols {
				t.Errorf("Cols() = %d, want %d", m.Cols(), tt.nCols)
			}
			if m.NNZ() != len(tt.indices) {
				t.Errorf("NNZ() = %d, want %d", m.NNZ(), len(tt.indices))
			}
		})
	}
}

func TestFromRows(t *testing.T) {
	t.Parallel()

	rows := []SparseRow{
		{Indices: []int{0, 3}, Values: []float64{1, 2}},
		{},
		{Indices: []int{2}, Values: []float64{-1}},
	}
	m, err := FromRows(rows, 4)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}
	if m.Rows() != 3 || m.NNZ() != 3 {
		t.Fatalf("got %d rows and %d nnz, want 3 and 3", m.Rows(), m.NNZ())
	}
	if r := m.Row(1); r.Len() != 0 {
		t.Errorf("Row(1).Len() = %d, want 0", r.Len())
	}
	if r := m.Row(2); r.Indices[0] != 2 || r.Values[0] != -1 {
		t.Errorf("Row(2) = %+v", r)
	}

	_, err = FromRows([]SparseRow{{Indices: []int{0, 1}, Values: []float64{1}}}, 2)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FromRows() with ragged row error = %v, want ErrShapeMismatch", err)
	}
}

func TestFromDense(t *testing.T) {
	t.Parallel()

	m, err := FromDense([][]float64{
		{0, 1.5, 0},
		{2, 0, 3},
	})
	if err != nil {
		t.Fatalf("FromDense() error = %v", err)
	}
	if m.Cols() != 3 || m.Rows() != 2 || m.NNZ() != 3 {
		t.Fatalf("shape = %dx%d nnz=%d, want 2x3 nnz=3", m.Rows(), m.Cols(), m.NNZ())
	}
	r := m.Row(1)
	if len(r.Indices) != 2 || r.Indices[0] != 0 || r.Indices[1] != 2 {
		t.Errorf("Row(1).Indices = %v, want [0 2]", r.Indices)
	}

	if _, err := FromDense([][]float64{{1, 2}, {3}}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FromDense() ragged error = %v, want ErrShapeMismatch", err)
	}
	if _, err := FromDense(nil); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FromDense(nil) error = %v, want ErrShapeMismatch", err)
	}
}

func TestMatrix_Slice(t *testing.T) {
	t.Parallel()

	m, err := FromDense([][]float64{
		{1, 0},
		{0, 2},
		{3, 4},
		{5, 0},
	})
	if err != nil {
		t.Fatalf("FromDense() error = %v", err)
	}

	s := m.Slice(1, 3)
	if s.Rows() != 2 || s.NNZ() != 3 || s.Cols() != 2 {
		t.Fatalf("Slice shape = %dx%d nnz=%d, want 2x2 nnz=3", s.Rows(), s.Cols(), s.NNZ())
	}
	if r := s.Row(0); r.Indices[0] != 1 || r.Values[0] != 2 {
		t.Errorf("Slice.Row(0) = %+v, want {[1] [2]}", r)
	}
	if r := s.Row(1); len(r.Values) != 2 || r.Values[1] != 4 {
		t.Errorf("Slice.Row(1) = %+v, want {[0 1] [3 4]}", r)
	}
}
