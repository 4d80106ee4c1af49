// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/dataset"
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/metrics"
	"github.com/tomtom215/fmengine/internal/storage"
	"github.com/tomtom215/fmengine/internal/trainer"
)

// errNoStorage is returned by commands that need a stored model.
var errNoStorage = errors.New("storage.backend is none: no stored model to load")

// runtime wires one engine to its storage, metrics, and trainer.
type runtime struct {
	engine   *fm.Engine
	backend  storage.Backend
	registry *prometheus.Registry // nil when metrics are disabled
	recorder *metrics.Recorder
	trainer  *trainer.Trainer
}

// newRuntime builds an uninitialized engine from mc and the rest from cfg.
func newRuntime(cfg *config.Config, mc fm.ModelConfig) (*runtime, error) {
	engine, err := fm.NewEngine(mc, logging.Logger())
	if err != nil {
		return nil, err
	}

	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rt := &runtime{engine: engine, backend: backend}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rt.recorder = metrics.NewRecorder(rt.registry, cfg.Metrics.Namespace)
	}

	rt.trainer, err = trainer.New(engine, backend, rt.recorder, trainer.OptionsFromConfig(cfg), logging.Logger())
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// openStoredModel builds a runtime whose engine holds a stored snapshot.
// The rank and task come from the snapshot, the rest from cfg.
func openStoredModel(ctx context.Context, cfg *config.Config, version int) (*runtime, *storage.Metadata, error) {
	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	if backend == nil {
		return nil, nil, errNoStorage
	}
	snap, meta, err := backend.Load(ctx, cfg.Storage.ModelName, version)
	// The runtime opens its own handle.
	if cerr := backend.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load model %q: %w", cfg.Storage.ModelName, err)
	}

	mc, err := cfg.FMConfig()
	if err != nil {
		return nil, nil, err
	}
	mc.Rank = snap.Rank
	if meta.Task != "" {
		if mc.Task, err = fm.ParseTask(meta.Task); err != nil {
			return nil, nil, err
		}
	}

	rt, err := newRuntime(cfg, mc)
	if err != nil {
		return nil, nil, err
	}
	if err := rt.engine.Restore(snap); err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	return rt, meta, nil
}

// readDataset loads a LIBSVM file sized to the engine when it is initialized.
func (rt *runtime) readDataset(path string, oneBased bool) (*dataset.Dataset, error) {
	ds, err := dataset.ReadFile(path, dataset.Options{
		NFeatures: rt.engine.NFeatures(),
		OneBased:  oneBased,
		Task:      rt.engine.Config().Task,
	})
	if err != nil {
		return nil, err
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", path, trainer.ErrEmptyDataset)
	}
	return ds, nil
}

// gatherer returns the registry as a Gatherer, or nil when metrics are off.
func (rt *runtime) gatherer() prometheus.Gatherer {
	if rt.registry == nil {
		return nil
	}
	return rt.registry
}

// Close releases the storage backend.
func (rt *runtime) Close() error {
	if rt.backend == nil {
		return nil
	}
	return rt.backend.Close()
}
