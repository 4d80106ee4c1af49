// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"fmt"
	"math"
	"sync/atomic"
)

// atomicVec is a vector of float64 values stored as IEEE-754 bit patterns.
// Every load, store, and add on a single element is indivisible, so workers
// updating the same feature never observe a torn value. Nothing orders
// operations across different elements.
type atomicVec []atomic.Uint64

func newAtomicVec(n int) atomicVec {
	return make(atomicVec, n)
}

func (v atomicVec) load(i int) float64 {
	return math.Float64frombits(v[i].Load())
}

func (v atomicVec) store(i int, x float64) {
	v[i].Store(math.Float64bits(x))
}

// add atomically adds delta to element i and returns the new value.
func (v atomicVec) add(i int, delta float64) float64 {
	for {
		old := v[i].Load()
		next := math.Float64frombits(old) + delta
		if v[i].CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

func (v atomicVec) fill(x float64) {
	bits := math.Float64bits(x)
	for i := range v {
		v[i].Store(bits)
	}
}

func (v atomicVec) toSlice() []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v.load(i)
	}
	return out
}

// WeightStore owns the numeric state of a model: bias, linear weights, the
// latent factor matrix, and the AdaGrad accumulator for each of them.
//
// Factors are held feature-major (feature j's embedding occupies
// [j*rank, (j+1)*rank)) so a row's kernels walk contiguous memory. Snapshot
// exports them as rank × nFeatures.
//
// The store is sized exactly once. Concurrent kernels may read and write any
// element; per-element atomicity is the only guarantee.
type WeightStore struct {
	rank        int
	nFeatures   int
	initialized bool

	bias          atomicVec // length 1
	gradAccumBias atomicVec // length 1

	linear          atomicVec // nFeatures
	gradAccumLinear atomicVec // nFeatures

	factors          atomicVec // nFeatures * rank, feature-major
	gradAccumFactors atomicVec // nFeatures * rank, feature-major
}

// NewWeightStore returns an empty store for embeddings of the given rank.
func NewWeightStore(rank int) *WeightStore {
	return &WeightStore{rank: rank}
}

// Initialized reports whether the store has been sized.
func (s *WeightStore) Initialized() bool {
	return s.initialized
}

// NFeatures returns the feature-space width, or 0 before initialization.
func (s *WeightStore) NFeatures() int {
	return s.nFeatures
}

// Rank returns the latent dimension.
func (s *WeightStore) Rank() int {
	return s.rank
}

// Initialize allocates all arrays for nFeatures features and applies the
// initialization policy: bias 0, accumulators AccumulatorInit, linear weights
// and factors drawn from N(0, cfg.InitStdDev²) using cfg's seed.
// Returns ErrAlreadyInitialized if the store was already sized.
func (s *WeightStore) Initialize(nFeatures int, cfg *ModelConfig) error {
	if s.initialized {
		return ErrAlreadyInitialized
	}
	if nFeatures < 1 {
		return fmt.Errorf("%w: n_features must be >= 1, got %d", ErrShapeMismatch, nFeatures)
	}

	s.allocate(nFeatures)

	s.bias.store(0, 0)
	s.gradAccumBias.store(0, AccumulatorInit)
	s.gradAccumLinear.fill(AccumulatorInit)
	s.gradAccumFactors.fill(AccumulatorInit)

	rng := rngFromSeed(cfg.seed())
	fillNormal(s.linear, rng, cfg.InitStdDev)
	fillNormal(s.factors, rng, cfg.InitStdDev)

	s.initialized = true
	return nil
}

// allocate sizes every array. Callers set the values.
func (s *WeightStore) allocate(nFeatures int) {
	s.nFeatures = nFeatures
	s.bias = newAtomicVec(1)
	s.gradAccumBias = newAtomicVec(1)
	s.linear = newAtomicVec(nFeatures)
	s.gradAccumLinear = newAtomicVec(nFeatures)
	s.factors = newAtomicVec(nFeatures * s.rank)
	s.gradAccumFactors = newAtomicVec(nFeatures * s.rank)
}

// factorIndex returns the flat offset of factors[k][j].
func (s *WeightStore) factorIndex(k, j int) int {
	return j*s.rank + k
}

// Snapshot is an immutable copy of a model's parameters for inspection and
// persistence. Factors and GradAccumFactors are rank × NFeatures: column j is
// feature j's embedding.
type Snapshot struct {
	Bias      float64     `json:"bias"`
	Linear    []float64   `json:"linear"`
	Factors   [][]float64 `json:"factors"`
	NFeatures int         `json:"n_features"`
	Rank      int         `json:"rank"`

	GradAccumBias    float64     `json:"grad_accum_bias"`
	GradAccumLinear  []float64   `json:"grad_accum_linear"`
	GradAccumFactors [][]float64 `json:"grad_accum_factors"`
}

// Snapshot copies every array out of the store. It has no side effects.
func (s *WeightStore) Snapshot() (*Snapshot, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	return &Snapshot{
		Bias:             s.bias.load(0),
		Linear:           s.linear.toSlice(),
		Factors:          s.exportFactors(s.factors),
		NFeatures:        s.nFeatures,
		Rank:             s.rank,
		GradAccumBias:    s.gradAccumBias.load(0),
		GradAccumLinear:  s.gradAccumLinear.toSlice(),
		GradAccumFactors: s.exportFactors(s.gradAccumFactors),
	}, nil
}

func (s *WeightStore) exportFactors(src atomicVec) [][]float64 {
	out := make([][]float64, s.rank)
	for k := 0; k < s.rank; k++ {
		out[k] = make([]float64, s.nFeatures)
		for j := 0; j < s.nFeatures; j++ {
			out[k][j] = src.load(s.factorIndex(k, j))
		}
	}
	return out
}

// Restore sizes the store from a snapshot and copies its values in.
// Accumulators below AccumulatorFloor are raised to the floor.
func (s *WeightStore) Restore(snap *Snapshot) error {
	if s.initialized {
		return ErrAlreadyInitialized
	}
	if err := s.validateSnapshot(snap); err != nil {
		return err
	}

	s.allocate(snap.NFeatures)

	s.bias.store(0, snap.Bias)
	s.gradAccumBias.store(0, floorAccumulator(snap.GradAccumBias))
	for j := 0; j < snap.NFeatures; j++ {
		s.linear.store(j, snap.Linear[j])
		s.gradAccumLinear.store(j, floorAccumulator(snap.GradAccumLinear[j]))
		for k := 0; k < s.rank; k++ {
			idx := s.factorIndex(k, j)
			s.factors.store(idx, snap.Factors[k][j])
			s.gradAccumFactors.store(idx, floorAccumulator(snap.GradAccumFactors[k][j]))
		}
	}

	s.initialized = true
	return nil
}

func (s *WeightStore) validateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrShapeMismatch)
	}
	if snap.Rank != s.rank {
		return fmt.Errorf("%w: snapshot rank %d does not match configured rank %d", ErrInvalidConfig, snap.Rank, s.rank)
	}
	n := snap.NFeatures
	if n < 1 || len(snap.Linear) != n || len(snap.GradAccumLinear) != n {
		return fmt.Errorf("%w: snapshot linear arrays do not match n_features=%d", ErrShapeMismatch, n)
	}
	if len(snap.Factors) != s.rank || len(snap.GradAccumFactors) != s.rank {
		return fmt.Errorf("%w: snapshot factor rows do not match rank=%d", ErrShapeMismatch, s.rank)
	}
	for k := 0; k < s.rank; k++ {
		if len(snap.Factors[k]) != n || len(snap.GradAccumFactors[k]) != n {
			return fmt.Errorf("%w: snapshot factor row %d has wrong width", ErrShapeMismatch, k)
		}
	}

	// A checksum only proves the bytes are intact; a diverged run can
	// still have saved NaN weights.
	if err := validateFinite("bias", []float64{snap.Bias, snap.GradAccumBias}); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := validateFinite("linear", snap.Linear); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := validateFinite("grad_accum_linear", snap.GradAccumLinear); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	for k := 0; k < s.rank; k++ {
		if err := validateFinite(fmt.Sprintf("factors[%d]", k), snap.Factors[k]); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if err := validateFinite(fmt.Sprintf("grad_accum_factors[%d]", k), snap.GradAccumFactors[k]); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	return nil
}
