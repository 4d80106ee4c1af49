// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import "math"

// Sigmoid returns 1/(1+e^-z) without overflowing for large |z|.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// rowLoss is the weighted loss of one row, used for batch bookkeeping.
// Regression: w·(raw−y)². Classification: w·log(1+e^(−y·raw)).
func rowLoss(task Task, raw, label, weight float64) float64 {
	if task == TaskClassification {
		return weight * Softplus(-label*raw)
	}
	d := raw - label
	return weight * d * d
}

// Softplus computes log(1+e^z) without overflowing for large z.
func Softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
