// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

// Score computes the factorization machine output for one row:
//
//	raw = bias·[intercept] + Σ_j w_j·x_j + ½ Σ_k ((Σ_j v_kj·x_j)² − Σ_j v_kj²·x_j²)
//
// It also returns sum_k = Σ_j v_kj·x_j for every latent dimension, which the
// update kernel needs. For classification raw is a logit; no squashing is
// applied. Score only reads the store.
func Score(row SparseRow, store *WeightStore, cfg *ModelConfig) (float64, []float64) {
	sums := make([]float64, store.rank)
	raw := store.score(row, cfg.Intercept, sums)
	return raw, sums
}

// score is the allocation-free form of Score. sums must have length rank and
// is overwritten.
//
// The pairwise term uses the O(nnz·rank) identity
// Σ_{i<j} <v_i, v_j> x_i x_j = ½ Σ_k ((Σ_j v_kj x_j)² − Σ_j (v_kj x_j)²).
func (s *WeightStore) score(row SparseRow, intercept bool, sums []float64) float64 {
	for k := range sums {
		sums[k] = 0
	}

	var raw float64
	if intercept {
		raw = s.bias.load(0)
	}

	var sumSq float64
	for p, j := range row.Indices {
		x := row.Values[p]
		raw += s.linear.load(j) * x

		base := j * s.rank
		for k := 0; k < s.rank; k++ {
			vx := s.factors.load(base+k) * x
			sums[k] += vx
			sumSq += vx * vx
		}
	}

	var interaction float64
	for _, sk := range sums {
		interaction += sk * sk
	}
	interaction -= sumSq

	return raw + 0.5*interaction
}
