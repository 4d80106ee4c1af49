// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import "errors"

// Lifecycle and configuration errors. Callers match these with errors.Is;
// returned errors may carry extra context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrInvalidConfig is returned when hyperparameters fail validation.
	// No engine is created when this is returned from NewEngine.
	ErrInvalidConfig = errors.New("fm: invalid config")

	// ErrAlreadyInitialized is returned when the weight store is initialized twice,
	// or when Restore is called on an engine that already holds a model.
	ErrAlreadyInitialized = errors.New("fm: model already initialized")

	// ErrNotInitialized is returned by Predict and Snapshot before the first Fit.
	ErrNotInitialized = errors.New("fm: model not initialized")

	// ErrShapeMismatch is returned when row, label, and weight counts disagree.
	// The check runs before any state is mutated.
	ErrShapeMismatch = errors.New("fm: shape mismatch")

	// ErrFeatureWidthMismatch is returned when a batch presents a feature count
	// different from the one the model was initialized with.
	ErrFeatureWidthMismatch = errors.New("fm: feature width mismatch")
)

// Input errors raised by the matrix constructors before any kernel runs.
var (
	// ErrNonFinite signals a NaN or ±Inf feature value, label, or weight.
	ErrNonFinite = errors.New("fm: NaN or Inf encountered")

	// ErrFeatureIndex signals a feature index outside [0, nCols).
	ErrFeatureIndex = errors.New("fm: feature index out of range")

	// ErrDuplicateFeature signals a feature index repeated within one row.
	ErrDuplicateFeature = errors.New("fm: duplicate feature index in row")

	// ErrInvalidLabel signals a classification label other than -1 or +1.
	ErrInvalidLabel = errors.New("fm: classification labels must be -1 or +1")
)
