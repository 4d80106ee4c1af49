// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package trainer drives an fm.Engine over a dataset in mini-batches.
//
// Each epoch walks every batch once, in dataset order or in a seeded
// shuffled order, calling Engine.Fit per batch. Per-epoch loss is logged
// and recorded in Prometheus. When a storage backend is attached, the
// trainer saves a snapshot every CheckpointEvery batches and once more at
// the end, then prunes to RetainVersions.
//
// Cancellation is observed between batches; a batch in flight always
// completes.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/dataset"
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/metrics"
	"github.com/tomtom215/fmengine/internal/storage"
)

// Errors returned by Run.
var (
	ErrEmptyDataset       = errors.New("trainer: dataset has no samples")
	ErrTrainingInProgress = errors.New("trainer: training already in progress")
	ErrNoBackend          = errors.New("trainer: no storage backend configured")
)

// gcDiscardRatio is passed to backends that can reclaim space after pruning.
const gcDiscardRatio = 0.5

// Options controls a training run.
type Options struct {
	Epochs    int
	BatchSize int
	Threads   int

	// Shuffle visits batches in a new seeded order each epoch. Rows inside
	// a batch keep their order.
	Shuffle bool
	Seed    int64

	// CheckpointEvery saves after this many batches. 0 saves only at the end.
	CheckpointEvery int

	ModelName      string
	RetainVersions int
}

// OptionsFromConfig builds Options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Epochs:          cfg.Training.Epochs,
		BatchSize:       cfg.Training.BatchSize,
		Threads:         cfg.EffectiveThreads(),
		Shuffle:         cfg.Training.Shuffle,
		Seed:            cfg.Model.Seed,
		CheckpointEvery: cfg.Training.CheckpointEvery,
		ModelName:       cfg.Storage.ModelName,
		RetainVersions:  cfg.Storage.RetainVersions,
	}
}

func (o *Options) validate() error {
	if o.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", o.Epochs)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", o.BatchSize)
	}
	if o.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint_every must be >= 0, got %d", o.CheckpointEvery)
	}
	if o.RetainVersions < 0 {
		return fmt.Errorf("retain_versions must be >= 0, got %d", o.RetainVersions)
	}
	return nil
}

// EpochResult summarizes one pass over the dataset.
type EpochResult struct {
	Epoch    int           `json:"epoch"`
	Rows     int           `json:"rows"`
	Loss     float64       `json:"loss"` // mean per-row loss
	Duration time.Duration `json:"duration"`
}

// Result summarizes a training run. On cancellation it covers the batches
// that completed.
type Result struct {
	RunID       string             `json:"run_id"`
	Epochs      []EpochResult      `json:"epochs"`
	Batches     int                `json:"batches"`
	Rows        int64              `json:"rows"`
	Checkpoints []storage.Metadata `json:"checkpoints,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// FinalLoss is the mean loss of the last completed epoch, or 0.
func (r *Result) FinalLoss() float64 {
	if len(r.Epochs) == 0 {
		return 0
	}
	return r.Epochs[len(r.Epochs)-1].Loss
}

// Trainer runs training passes over one engine. Backend and Recorder are
// optional.
type Trainer struct {
	engine   *fm.Engine
	backend  storage.Backend
	recorder *metrics.Recorder
	opts     Options
	logger   zerolog.Logger

	runMu sync.Mutex

	// saveMu serializes checkpoints. savedVersion is the engine version
	// held by the newest checkpoint.
	saveMu       sync.Mutex
	savedVersion int64

	// observeMu makes journal append plus fit atomic with respect to
	// snapshots. appliedSeq is the newest journal record in the engine.
	journal    Journal
	observeMu  sync.Mutex
	appliedSeq uint64
}

// New creates a trainer. backend and recorder may be nil.
func New(engine *fm.Engine, backend storage.Backend, recorder *metrics.Recorder, opts Options, logger zerolog.Logger) (*Trainer, error) {
	if engine == nil {
		return nil, errors.New("trainer: nil engine")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if backend != nil && opts.ModelName == "" {
		return nil, errors.New("trainer: model name required with a storage backend")
	}

	return &Trainer{
		engine:   engine,
		backend:  backend,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "trainer").Logger(),
	}, nil
}

// Resume restores the engine from the newest stored snapshot. It returns
// nil metadata when no snapshot exists or no backend is attached.
func (t *Trainer) Resume(ctx context.Context) (*storage.Metadata, error) {
	if t.backend == nil {
		return nil, nil
	}

	snap, meta, err := t.backend.Load(ctx, t.opts.ModelName, 0)
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Info().Str("model", t.opts.ModelName).Msg("no stored snapshot, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if task := t.engine.Config().Task.String(); meta.Task != "" && meta.Task != task {
		return nil, fmt.Errorf("%w: snapshot task %q, engine task %q", fm.ErrInvalidConfig, meta.Task, task)
	}
	if err := t.engine.Restore(snap); err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	t.saveMu.Lock()
	t.savedVersion = t.engine.Version()
	t.saveMu.Unlock()
	t.observeMu.Lock()
	t.appliedSeq = meta.JournalSeq
	t.observeMu.Unlock()
	t.updateModelMetrics()

	t.logger.Info().
		Str("model", meta.Name).
		Int("version", meta.Version).
		Str("from_run", meta.RunID).
		Int("n_features", meta.NFeatures).
		Msg("resumed from snapshot")
	return meta, nil
}

// Run trains on ds for the configured number of epochs.
func (t *Trainer) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	if !t.runMu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer t.runMu.Unlock()

	if ds == nil || ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}

	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = logging.NewRunID()
		ctx = logging.ContextWithRunID(ctx, runID)
	}
	logger := t.logger.With().Str("run_id", runID).Logger()

	batches, err := ds.Batches(t.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{RunID: runID}
	defer func() { result.Duration = time.Since(start) }()

	logger.Info().
		Int("rows", ds.Len()).
		Int("n_features", ds.NFeatures()).
		Int("batches", len(batches)).
		Int("epochs", t.opts.Epochs).
		Int("threads", t.opts.Threads).
		Msg("starting training")

	//nolint:gosec // G404: math/rand is acceptable for batch ordering (not security)
	rng := rand.New(rand.NewSource(t.opts.Seed))
	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		if t.opts.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		er, err := t.runEpoch(ctx, epoch, batches, order, result, logger)
		if err != nil {
			return result, err
		}
		result.Epochs = append(result.Epochs, er)
		t.recorder.RecordEpoch(er.Loss)

		logger.Info().
			Int("epoch", epoch).
			Int("rows", er.Rows).
			Float64("loss", er.Loss).
			Dur("duration", er.Duration).
			Msg("epoch complete")
	}

	// The last periodic checkpoint may already hold the final state.
	if t.backend != nil && (t.opts.CheckpointEvery == 0 || result.Batches%t.opts.CheckpointEvery != 0) {
		if err := t.checkpoint(ctx, runID, result, logger); err != nil {
			return result, err
		}
	}

	logger.Info().
		Int("batches", result.Batches).
		Int64("rows", result.Rows).
		Float64("final_loss", result.FinalLoss()).
		Int("checkpoints", len(result.Checkpoints)).
		Dur("duration", time.Since(start)).
		Msg("training complete")
	return result, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int, batches []dataset.Batch, order []int, result *Result, logger zerolog.Logger) (EpochResult, error) {
	start := time.Now()
	var lossSum float64
	rows := 0

	for _, bi := range order {
		if err := ctx.Err(); err != nil {
			logger.Warn().Int("epoch", epoch).Int("batches_done", result.Batches).Msg("training cancelled")
			return EpochResult{}, err
		}

		batch := batches[bi]
		batchStart := time.Now()
		res, err := t.engine.Fit(ctx, batch.X, batch.Labels, nil, t.opts.Threads)
		if err != nil {
			t.recorder.RecordError(metrics.ModeFit)
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: %w", epoch, batch.Index, err)
		}
		t.recorder.RecordFit(batch.X.Rows(), res.MeanLoss(), time.Since(batchStart))

		lossSum += res.Loss
		rows += batch.X.Rows()
		result.Batches++
		result.Rows += int64(batch.X.Rows())

		logger.Debug().
			Int("epoch", epoch).
			Int("batch", batch.Index).
			Int("workers", res.Workers).
			Float64("loss", res.MeanLoss()).
			Msg("batch fitted")

		if t.backend != nil && t.opts.CheckpointEvery > 0 && result.Batches%t.opts.CheckpointEvery == 0 {
			if err := t.checkpoint(ctx, result.RunID, result, logger); err != nil {
				return EpochResult{}, err
			}
		}
	}
	t.updateModelMetrics()

	er := EpochResult{Epoch: epoch, Rows: rows, Duration: time.Since(start)}
	if rows > 0 {
		er.Loss = lossSum / float64(rows)
	}
	return er, nil
}

// checkpoint saves the current engine state into result.
func (t *Trainer) checkpoint(ctx context.Context, runID string, result *Result, logger zerolog.Logger) error {
	meta, err := t.save(ctx, runID, logger)
	if err != nil {
		return err
	}
	result.Checkpoints = append(result.Checkpoints, *meta)
	return nil
}

// Checkpoint saves the engine when it has changed since the last save.
// It returns nil metadata when the engine is uninitialized or unchanged.
func (t *Trainer) Checkpoint(ctx context.Context) (*storage.Metadata, error) {
	if t.backend == nil {
		return nil, ErrNoBackend
	}
	if t.engine.State() != fm.StateReady {
		return nil, nil
	}

	t.saveMu.Lock()
	unchanged := t.engine.Version() == t.savedVersion
	t.saveMu.Unlock()
	if unchanged {
		return nil, nil
	}

	runID := logging.RunIDFromContext(ctx)
	return t.save(ctx, runID, t.logger.With().Str("run_id", runID).Logger())
}

// save writes a snapshot and prunes old versions.
func (t *Trainer) save(ctx context.Context, runID string, logger zerolog.Logger) (*storage.Metadata, error) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	snap, status, journalSeq, err := t.capture()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	meta, err := t.backend.Save(ctx, t.opts.ModelName, snap, storage.Metadata{
		RunID:         runID,
		Task:          status.Task,
		EngineVersion: status.Version,
		RowsFitted:    status.RowsFitted,
		Loss:          status.LastLoss,
		JournalSeq:    journalSeq,
	})
	t.recorder.RecordCheckpoint(t.backend.Name(), err)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	t.savedVersion = status.Version

	logger.Info().
		Str("model", meta.Name).
		Int("version", meta.Version).
		Int64("size_bytes", meta.SizeBytes).
		Str("backend", t.backend.Name()).
		Msg("checkpoint saved")

	t.truncateJournal(ctx, journalSeq, logger)

	if t.opts.RetainVersions > 0 {
		if err := t.backend.Prune(ctx, t.opts.ModelName, t.opts.RetainVersions); err != nil {
			logger.Warn().Err(err).Msg("prune old snapshots failed")
			return meta, nil
		}
		if gc, ok := t.backend.(interface{ RunGC(float64) error }); ok {
			if err := gc.RunGC(gcDiscardRatio); err != nil {
				logger.Warn().Err(err).Msg("storage GC failed")
			}
		}
	}
	return meta, nil
}

// Observe fits one batch outside of a Run, as an online update. It may run
// while no Run is active or between Run batches; the engine serializes fits.
// With a journal attached the batch is logged before it is applied.
func (t *Trainer) Observe(ctx context.Context, x *fm.Matrix, labels, weights []float64) (*fm.BatchResult, error) {
	if t.journal != nil {
		return t.observeJournaled(ctx, x, labels, weights)
	}
	return t.fit(ctx, x, labels, weights)
}

func (t *Trainer) fit(ctx context.Context, x *fm.Matrix, labels, weights []float64) (*fm.BatchResult, error) {
	start := time.Now()
	res, err := t.engine.Fit(ctx, x, labels, weights, t.opts.Threads)
	if err != nil {
		t.recorder.RecordError(metrics.ModeFit)
		return nil, err
	}
	t.recorder.RecordFit(x.Rows(), res.MeanLoss(), time.Since(start))
	t.updateModelMetrics()
	return res, nil
}

// Predict scores x, returning probabilities when proba is set.
func (t *Trainer) Predict(ctx context.Context, x *fm.Matrix, proba bool) ([]float64, error) {
	start := time.Now()
	var (
		scores []float64
		err    error
	)
	if proba {
		scores, err = t.engine.PredictProba(ctx, x, t.opts.Threads)
	} else {
		scores, err = t.engine.Predict(ctx, x, t.opts.Threads)
	}
	if err != nil {
		t.recorder.RecordError(metrics.ModePredict)
		return nil, err
	}
	t.recorder.RecordPredict(x.Rows(), time.Since(start))
	return scores, nil
}

// Engine returns the engine being trained.
func (t *Trainer) Engine() *fm.Engine {
	return t.engine
}

// Backend returns the storage backend, or nil.
func (t *Trainer) Backend() storage.Backend {
	return t.backend
}

// Recorder returns the metrics recorder, or nil.
func (t *Trainer) Recorder() *metrics.Recorder {
	return t.recorder
}

// ModelName is the name snapshots are stored under.
func (t *Trainer) ModelName() string {
	return t.opts.ModelName
}

func (t *Trainer) updateModelMetrics() {
	status := t.engine.Status()
	t.recorder.UpdateModel(status.NFeatures, status.Rank, status.Version, status.State == fm.StateReady)
}
