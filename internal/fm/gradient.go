// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import "math"

// Update applies one AdaGrad step for every parameter the row touches.
// raw and sums must come from Score on the same row and store state.
func Update(row SparseRow, label, weight, raw float64, sums []float64, store *WeightStore, cfg *ModelConfig) {
	g := errorSignal(cfg.Task, raw, label, weight)
	store.applyUpdate(row, g, sums, cfg)
}

// errorSignal returns dLoss/draw for one row, scaled by the sample weight.
//
//	regression:     g = w·(raw − y)
//	classification: g = w·(σ(y·raw) − 1)·y, y ∈ {−1, +1}
func errorSignal(task Task, raw, label, weight float64) float64 {
	switch task {
	case TaskClassification:
		return weight * (Sigmoid(label*raw) - 1) * label
	default:
		return weight * (raw - label)
	}
}

// applyUpdate performs the per-feature AdaGrad updates for error signal g:
//
//	grad_w  = g·x_j + 2·λw·w_j
//	grad_v  = g·x_j·(sum_k − v_kj·x_j) + 2·λv·v_kj
//	grad_b  = g                              (intercept only, once per row)
//	acc    += grad²
//	param  −= lr·grad/√acc
//
// Every scalar read-modify-write is atomic; nothing is locked across features.
// Concurrent workers touching the same feature interleave (Hogwild).
func (s *WeightStore) applyUpdate(row SparseRow, g float64, sums []float64, cfg *ModelConfig) {
	lr := cfg.LearningRate
	twoLambdaW := 2 * cfg.LambdaW
	twoLambdaV := 2 * cfg.LambdaV

	for p, j := range row.Indices {
		x := row.Values[p]

		gradW := g*x + twoLambdaW*s.linear.load(j)
		adagradStep(s.linear, s.gradAccumLinear, j, gradW, lr)

		base := j * s.rank
		for k := 0; k < s.rank; k++ {
			idx := base + k
			v := s.factors.load(idx)
			gradV := g*x*(sums[k]-v*x) + twoLambdaV*v
			adagradStep(s.factors, s.gradAccumFactors, idx, gradV, lr)
		}
	}

	if cfg.Intercept {
		adagradStep(s.bias, s.gradAccumBias, 0, g, lr)
	}
}

// adagradStep grows the accumulator by grad² and moves the parameter by
// −lr·grad/√acc, using the accumulator value this step produced.
// A zero gradient changes nothing.
func adagradStep(param, accum atomicVec, i int, grad, lr float64) {
	if grad == 0 {
		return
	}
	acc := accum.add(i, grad*grad)
	param.add(i, -lr*grad/math.Sqrt(acc))
}
