// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"math"
	"math/rand"
)

const (
	// AccumulatorInit is the starting value of every AdaGrad accumulator.
	AccumulatorInit = 1.0

	// AccumulatorFloor is the smallest value an accumulator may hold.
	// Accumulators only grow from AccumulatorInit during fitting; the floor
	// applies to state restored from a snapshot.
	AccumulatorFloor = 1e-8
)

// rngFromSeed returns a deterministic source for weight initialization.
//
//nolint:gosec // G404: math/rand is acceptable for ML initialization (not security)
func rngFromSeed(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// fillNormal draws every element of v from N(0, stddev²) in index order.
// A zero stddev leaves all elements at zero.
func fillNormal(v atomicVec, rng *rand.Rand, stddev float64) {
	for i := range v {
		v.store(i, rng.NormFloat64()*stddev)
	}
}

func floorAccumulator(x float64) float64 {
	if math.IsNaN(x) || x < AccumulatorFloor {
		return AccumulatorFloor
	}
	return x
}
