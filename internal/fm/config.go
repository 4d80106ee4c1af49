// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"fmt"
	"math"
	"strings"
)

// Task selects the loss whose gradient drives the update kernel.
// Both tasks share the same forward pass.
type Task int

const (
	// TaskRegression minimizes squared error against real-valued labels.
	TaskRegression Task = iota
	// TaskClassification minimizes logistic loss against labels in {-1, +1}.
	TaskClassification
)

// String returns the configuration name of the task.
func (t Task) String() string {
	switch t {
	case TaskRegression:
		return "regression"
	case TaskClassification:
		return "classification"
	default:
		return "unknown"
	}
}

// ParseTask converts a configuration string into a Task.
func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "regression", "reg":
		return TaskRegression, nil
	case "classification", "class", "binary":
		return TaskClassification, nil
	default:
		return 0, fmt.Errorf("%w: unknown task %q", ErrInvalidConfig, s)
	}
}

// Default hyperparameters.
const (
	DefaultLearningRate = 0.1
	DefaultRank         = 8
	DefaultInitStdDev   = 0.001
	DefaultSeed         = 42
)

// ModelConfig holds the hyperparameters of a factorization machine.
// It is fixed for the lifetime of a model; the engine keeps its own copy.
type ModelConfig struct {
	// LearningRate is the base AdaGrad step size. Must be > 0.
	// Default: 0.1.
	LearningRate float64

	// Rank is the dimension of each feature's latent embedding. Must be >= 1.
	// Default: 8.
	Rank int

	// LambdaW is the L2 penalty on linear weights. Must be >= 0.
	LambdaW float64

	// LambdaV is the L2 penalty on interaction factors. Must be >= 0.
	LambdaV float64

	// Task selects regression or binary classification.
	Task Task

	// Intercept enables the global bias term.
	Intercept bool

	// InitStdDev is the standard deviation of the normal noise used to
	// initialize linear weights and factors. Must be >= 0.
	// Default: 0.001.
	InitStdDev float64

	// Seed drives weight initialization. If 0, DefaultSeed is used.
	Seed int64
}

// DefaultModelConfig returns a regression configuration with an intercept.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		LearningRate: DefaultLearningRate,
		Rank:         DefaultRank,
		Task:         TaskRegression,
		Intercept:    true,
		InitStdDev:   DefaultInitStdDev,
		Seed:         DefaultSeed,
	}
}

// Validate checks the hyperparameters. Every failure wraps ErrInvalidConfig.
func (c *ModelConfig) Validate() error {
	if math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0) || c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive and finite, got %v", ErrInvalidConfig, c.LearningRate)
	}
	if c.Rank < 1 {
		return fmt.Errorf("%w: rank must be >= 1, got %d", ErrInvalidConfig, c.Rank)
	}
	if math.IsNaN(c.LambdaW) || math.IsInf(c.LambdaW, 0) || c.LambdaW < 0 {
		return fmt.Errorf("%w: lambda_w must be non-negative, got %v", ErrInvalidConfig, c.LambdaW)
	}
	if math.IsNaN(c.LambdaV) || math.IsInf(c.LambdaV, 0) || c.LambdaV < 0 {
		return fmt.Errorf("%w: lambda_v must be non-negative, got %v", ErrInvalidConfig, c.LambdaV)
	}
	if c.Task != TaskRegression && c.Task != TaskClassification {
		return fmt.Errorf("%w: unknown task %d", ErrInvalidConfig, c.Task)
	}
	if math.IsNaN(c.InitStdDev) || math.IsInf(c.InitStdDev, 0) || c.InitStdDev < 0 {
		return fmt.Errorf("%w: init_stddev must be non-negative, got %v", ErrInvalidConfig, c.InitStdDev)
	}
	return nil
}

// seed returns the effective initialization seed.
func (c *ModelConfig) seed() int64 {
	if c.Seed == 0 {
		return DefaultSeed
	}
	return c.Seed
}
