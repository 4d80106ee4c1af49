// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"fmt"
	"sync"
)

// Mode selects whether a row loop updates the model.
type Mode int

const (
	// ModeFit scores each row and immediately applies its update.
	ModeFit Mode = iota
	// ModePredict only scores rows.
	ModePredict
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeFit:
		return "fit"
	case ModePredict:
		return "predict"
	default:
		return "unknown"
	}
}

// BatchResult is the outcome of one row loop.
type BatchResult struct {
	// Predictions holds one raw score per input row, in input order.
	// In fit mode each score reflects the model before that row's own update.
	Predictions []float64

	// Loss is the summed weighted loss of the batch (fit mode only).
	Loss float64

	// Workers is the number of row blocks the batch was split into.
	Workers int
}

// MeanLoss returns Loss divided by the number of rows, or 0 for an empty batch.
func (r *BatchResult) MeanLoss() float64 {
	if len(r.Predictions) == 0 {
		return 0
	}
	return r.Loss / float64(len(r.Predictions))
}

// checkShape verifies that labels and weights line up with the matrix rows.
// Labels are required in fit mode; nil weights mean uniform weight 1.
func checkShape(mode Mode, x *Matrix, labels, weights []float64) error {
	if x == nil {
		return fmt.Errorf("%w: nil matrix", ErrShapeMismatch)
	}
	rows := x.Rows()
	if mode == ModeFit && len(labels) != rows {
		return fmt.Errorf("%w: %d rows but %d labels", ErrShapeMismatch, rows, len(labels))
	}
	if weights != nil && len(weights) != rows {
		return fmt.Errorf("%w: %d rows but %d sample weights", ErrShapeMismatch, rows, len(weights))
	}
	return nil
}

// partition splits n rows into at most threads contiguous [start, end) blocks.
// threads <= 0 is treated as 1.
func partition(n, threads int) [][2]int {
	if threads <= 0 {
		threads = 1
	}
	if threads > n {
		threads = n
	}
	if n == 0 {
		return nil
	}

	chunkSize := (n + threads - 1) / threads
	blocks := make([][2]int, 0, threads)
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		blocks = append(blocks, [2]int{start, end})
	}
	return blocks
}

// run drives the kernels over every row of x. Each worker owns one contiguous
// block and, in fit mode, updates the store after scoring each row before moving
// to the next. Workers share the store without locks (see applyUpdate).
// Predictions are written by row index, so output order never depends on
// scheduling. The caller has already validated shapes.
func run(store *WeightStore, cfg *ModelConfig, x *Matrix, labels, weights []float64, mode Mode, threads int) *BatchResult {
	n := x.Rows()
	blocks := partition(n, threads)
	result := &BatchResult{
		Predictions: make([]float64, n),
		Workers:     len(blocks),
	}
	losses := make([]float64, len(blocks))

	if len(blocks) == 1 {
		losses[0] = runBlock(store, cfg, x, labels, weights, mode, blocks[0], result.Predictions)
	} else {
		var wg sync.WaitGroup
		for w, block := range blocks {
			wg.Add(1)
			go func(w int, block [2]int) {
				defer wg.Done()
				losses[w] = runBlock(store, cfg, x, labels, weights, mode, block, result.Predictions)
			}(w, block)
		}
		wg.Wait()
	}

	for _, l := range losses {
		result.Loss += l
	}
	return result
}

// runBlock processes rows [block[0], block[1]) and returns their summed loss.
func runBlock(store *WeightStore, cfg *ModelConfig, x *Matrix, labels, weights []float64, mode Mode, block [2]int, preds []float64) float64 {
	sums := make([]float64, store.rank)
	var loss float64

	for i := block[0]; i < block[1]; i++ {
		row := x.Row(i)
		raw := store.score(row, cfg.Intercept, sums)
		preds[i] = raw

		if mode != ModeFit {
			continue
		}

		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		loss += rowLoss(cfg.Task, raw, labels[i], w)
		store.applyUpdate(row, errorSignal(cfg.Task, raw, labels[i], w), sums, cfg)
	}
	return loss
}
