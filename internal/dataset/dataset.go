// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package dataset loads sparse training data for the FM engine.
//
// Input is LIBSVM / SVMLight text, one sample per line:
//
//	<label> <index>:<value> <index>:<value> ... [# comment]
//
// Blank lines and lines starting with '#' are skipped, as are "qid:" tokens.
// Indices are zero-based unless Options.OneBased is set.
//
// A Dataset is cut into contiguous mini-batches with Batches; each batch's
// matrix is a view sharing storage with the dataset.
package dataset

import (
	"fmt"

	"github.com/tomtom215/fmengine/internal/fm"
)

// Dataset is a labelled sparse matrix.
type Dataset struct {
	X      *fm.Matrix
	Labels []float64
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return d.X.Rows()
}

// NFeatures returns the feature-space width.
func (d *Dataset) NFeatures() int {
	return d.X.Cols()
}

// Batch is a contiguous range of samples.
type Batch struct {
	// Index is the batch's position in dataset order.
	Index int

	// Offset is the dataset row of the batch's first sample.
	Offset int

	X      *fm.Matrix
	Labels []float64
}

// Batches splits the dataset into consecutive batches of at most size rows.
// The last batch holds the remainder. An empty dataset yields no batches.
func (d *Dataset) Batches(size int) ([]Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", size)
	}

	n := d.Len()
	batches := make([]Batch, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		batches = append(batches, Batch{
			Index:  len(batches),
			Offset: lo,
			X:      d.X.Slice(lo, hi),
			Labels: d.Labels[lo:hi],
		})
	}
	return batches, nil
}

// NormalizeLabels maps labels onto {-1, +1} for classification: positive
// labels become +1, everything else -1. This accepts both {0, 1} and
// {-1, +1} encodings. The slice is modified in place.
func NormalizeLabels(labels []float64) {
	for i, y := range labels {
		if y > 0 {
			labels[i] = 1
		} else {
			labels[i] = -1
		}
	}
}
