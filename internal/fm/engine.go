// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the engine lifecycle phase.
type State int

const (
	// StateUninitialized accepts Fit and Restore only.
	StateUninitialized State = iota
	// StateReady accepts Fit, Predict, and Snapshot.
	StateReady
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of an engine.
type Status struct {
	State         State     `json:"state"`
	NFeatures     int       `json:"n_features"`
	Rank          int       `json:"rank"`
	Task          string    `json:"task"`
	Version       int64     `json:"version"`
	RowsFitted    int64     `json:"rows_fitted"`
	RowsPredicted int64     `json:"rows_predicted"`
	LastLoss      float64   `json:"last_loss"`
	LastFitAt     time.Time `json:"last_fit_at"`
}

// Engine is an online factorization machine. The first Fit sizes the model;
// later Fit calls keep training it in place.
//
// Fit calls are serialized against each other and against Predict. Within one
// call, rows are spread over worker goroutines that share the weights without
// locks. Predict calls may run concurrently with each other.
type Engine struct {
	cfg    ModelConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	state State
	store *WeightStore

	version       atomic.Int64
	rowsFitted    atomic.Int64
	rowsPredicted atomic.Int64

	statsMu   sync.Mutex
	lastLoss  float64
	lastFitAt time.Time
}

// NewEngine validates cfg and returns an uninitialized engine.
// Returns an error wrapping ErrInvalidConfig if validation fails.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg ModelConfig, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "fm").Logger(),
		state:  StateUninitialized,
		store:  NewWeightStore(cfg.Rank),
	}, nil
}

// Config returns a copy of the engine's hyperparameters.
func (e *Engine) Config() ModelConfig {
	return e.cfg
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// NFeatures returns the feature-space width, or 0 before the first Fit.
func (e *Engine) NFeatures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.NFeatures()
}

// Version returns the number of successful Fit and Restore calls.
func (e *Engine) Version() int64 {
	return e.version.Load()
}

// Fit trains on every row of x and returns each row's raw score as it was
// just before that row's own update. weights may be nil for uniform weight.
//
// All input checks run before any state changes: shape, finiteness, labels
// for classification, and feature width against an initialized model. The
// first successful call sizes the model to x.Cols().
func (e *Engine) Fit(ctx context.Context, x *Matrix, labels, weights []float64, threads int) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.checkFitInput(x, labels, weights); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateReady && x.Cols() != e.store.NFeatures() {
		return nil, fmt.Errorf("%w: model has %d features, batch has %d",
			ErrFeatureWidthMismatch, e.store.NFeatures(), x.Cols())
	}

	if e.state == StateUninitialized {
		if err := e.store.Initialize(x.Cols(), &e.cfg); err != nil {
			return nil, err
		}
		e.state = StateReady
		e.logger.Info().
			Int("n_features", x.Cols()).
			Int("rank", e.cfg.Rank).
			Str("task", e.cfg.Task.String()).
			Msg("initialized model")
	}

	start := time.Now()
	result := run(e.store, &e.cfg, x, labels, weights, ModeFit, threads)

	version := e.version.Add(1)
	e.rowsFitted.Add(int64(x.Rows()))
	e.statsMu.Lock()
	e.lastLoss = result.MeanLoss()
	e.lastFitAt = time.Now()
	e.statsMu.Unlock()

	e.logger.Debug().
		Int("rows", x.Rows()).
		Int("nnz", x.NNZ()).
		Int("workers", result.Workers).
		Float64("mean_loss", result.MeanLoss()).
		Int64("version", version).
		Dur("duration", time.Since(start)).
		Msg("fit batch")

	return result, nil
}

func (e *Engine) checkFitInput(x *Matrix, labels, weights []float64) error {
	if err := checkShape(ModeFit, x, labels, weights); err != nil {
		return err
	}
	if err := validateFinite("labels", labels); err != nil {
		return err
	}
	if err := validateFinite("weights", weights); err != nil {
		return err
	}
	if e.cfg.Task == TaskClassification {
		for i, y := range labels {
			if y != 1 && y != -1 {
				return fmt.Errorf("%w: labels[%d] = %g", ErrInvalidLabel, i, y)
			}
		}
	}
	return nil
}

// Predict returns the raw score of every row of x in input order. For
// classification scores are logits; apply Sigmoid for probabilities.
// Returns ErrNotInitialized before the first Fit or Restore.
func (e *Engine) Predict(ctx context.Context, x *Matrix, threads int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkShape(ModePredict, x, nil, nil); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return nil, ErrNotInitialized
	}
	if x.Cols() != e.store.NFeatures() {
		return nil, fmt.Errorf("%w: model has %d features, batch has %d",
			ErrFeatureWidthMismatch, e.store.NFeatures(), x.Cols())
	}

	result := run(e.store, &e.cfg, x, nil, nil, ModePredict, threads)
	e.rowsPredicted.Add(int64(x.Rows()))
	return result.Predictions, nil
}

// PredictProba returns Sigmoid of each raw score. It is only meaningful for
// classification models.
func (e *Engine) PredictProba(ctx context.Context, x *Matrix, threads int) ([]float64, error) {
	scores, err := e.Predict(ctx, x, threads)
	if err != nil {
		return nil, err
	}
	for i, s := range scores {
		scores[i] = Sigmoid(s)
	}
	return scores, nil
}

// Snapshot returns a copy of the model parameters.
// Returns ErrNotInitialized before the first Fit or Restore.
func (e *Engine) Snapshot() (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot()
}

// Restore loads a snapshot into an uninitialized engine. The snapshot's rank
// must match the engine's configuration.
func (e *Engine) Restore(snap *Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if err := e.store.Restore(snap); err != nil {
		return err
	}
	e.state = StateReady
	e.version.Add(1)

	e.logger.Info().
		Int("n_features", snap.NFeatures).
		Int("rank", snap.Rank).
		Msg("restored model from snapshot")
	return nil
}

// SnapshotWithStatus returns a snapshot and the status it corresponds to,
// read under one lock so no Fit lands between them.
func (e *Engine) SnapshotWithStatus() (*Snapshot, Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, err := e.store.Snapshot()
	if err != nil {
		return nil, Status{}, err
	}
	return snap, e.status(), nil
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status()
}

// status requires e.mu held.
func (e *Engine) status() Status {
	st := Status{
		State:         e.state,
		NFeatures:     e.store.NFeatures(),
		Rank:          e.cfg.Rank,
		Task:          e.cfg.Task.String(),
		Version:       e.version.Load(),
		RowsFitted:    e.rowsFitted.Load(),
		RowsPredicted: e.rowsPredicted.Load(),
	}

	e.statsMu.Lock()
	st.LastLoss = e.lastLoss
	st.LastFitAt = e.lastFitAt
	e.statsMu.Unlock()
	return st
}
