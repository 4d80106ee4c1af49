// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package fm implements online training and inference for second-order
// factorization machines over sparse rows.
//
// # Model
//
// A factorization machine scores a sparse row x as
//
//	ŷ(x) = b + Σ_j w_j·x_j + Σ_{i<j} <v_i, v_j>·x_i·x_j
//
// where every feature j owns a linear weight w_j and a latent embedding v_j
// of length Rank. The pairwise term is evaluated in O(nnz·rank) time.
// Parameters are trained with AdaGrad; each scalar keeps its own
// squared-gradient accumulator, starting at 1.0.
//
// # Lifecycle
//
// An Engine starts uninitialized. The first Fit sizes the model to the
// batch's column count; every later batch must have the same width. Predict
// and Snapshot fail with ErrNotInitialized until then. Restore loads a
// snapshot into an uninitialized engine instead of fitting.
//
// # Concurrency
//
// Within one Fit call rows are split into contiguous blocks, one per worker
// goroutine. Workers score a row and update the weights it touches before
// moving on. Weights are shared without locks: every float is stored as bits
// in an atomic.Uint64 and updated with compare-and-swap, so a single value is
// never torn, but updates from different workers to the same feature may
// interleave (Hogwild). With one thread and a fixed seed, results are
// bit-identical across runs.
//
// Separate Fit calls are serialized, and Predict never overlaps a Fit.
//
// # Usage
//
//	cfg := fm.DefaultModelConfig()
//	cfg.Rank = 4
//	engine, err := fm.NewEngine(cfg, logger)
//
//	x, err := fm.FromRows(rows, nFeatures)
//	res, err := engine.Fit(ctx, x, labels, nil, runtime.NumCPU())
//	preds, err := engine.Predict(ctx, x, runtime.NumCPU())
//
// # References
//
//   - Rendle, "Factorization Machines" (ICDM 2010)
//   - Duchi et al., "Adaptive Subgradient Methods for Online Learning and
//     Stochastic Optimization" (JMLR 2011)
//   - Niu et al., "Hogwild!: A Lock-Free Approach to Parallelizing
//     Stochastic Gradient Descent" (NIPS 2011)
package fm
