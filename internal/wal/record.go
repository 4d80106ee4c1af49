// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package wal

import (
	"time"

	"github.com/tomtom215/fmengine/internal/fm"
)

// Record is one journaled fit batch. The matrix is stored in CSR form.
type Record struct {
	// Seq is assigned by Append.
	Seq uint64 `json:"seq"`

	Indptr  []int     `json:"indptr"`
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
	NCols   int       `json:"n_cols"`

	Labels  []float64 `json:"labels"`
	Weights []float64 `json:"weights,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRecord captures a fit batch. The slices are shared, not copied; the
// record is encoded before Append returns.
func NewRecord(x *fm.Matrix, labels, weights []float64) *Record {
	indptr, indices, values := x.CSR()
	return &Record{
		Indptr:  indptr,
		Indices: indices,
		Values:  values,
		NCols:   x.Cols(),
		Labels:  labels,
		Weights: weights,
	}
}

// Matrix rebuilds and revalidates the batch's feature matrix.
func (r *Record) Matrix() (*fm.Matrix, error) {
	return fm.NewMatrix(r.Indptr, r.Indices, r.Values, r.NCols)
}

// Rows returns the number of samples in the batch.
func (r *Record) Rows() int {
	return len(r.Labels)
}
