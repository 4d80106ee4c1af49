// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/storage"
)

type inspectFlags struct {
	version int
	weights bool
}

// weightSummary describes a snapshot without dumping it.
type weightSummary struct {
	Bias          float64 `json:"bias"`
	LinearL2      float64 `json:"linear_l2"`
	LinearMaxAbs  float64 `json:"linear_max_abs"`
	FactorsL2     float64 `json:"factors_l2"`
	ActiveFactors int     `json:"active_factor_rows"`
}

type inspectOutput struct {
	Model    *storage.Metadata `json:"model"`
	Versions []int             `json:"versions"`
	Summary  weightSummary     `json:"summary"`
	Snapshot *fm.Snapshot      `json:"snapshot,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	f := &inspectFlags{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show metadata and weight statistics of a stored model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInspect(cmd.Context(), f)
		},
	}

	cmd.Flags().IntVar(&f.version, "version", 0, "snapshot version to inspect (0 = latest)")
	cmd.Flags().BoolVar(&f.weights, "weights", false, "include the full weight arrays")

	return cmd
}

func (a *app) runInspect(ctx context.Context, f *inspectFlags) error {
	backend, err := storage.New(a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if backend == nil {
		return errNoStorage
	}
	defer func() { _ = backend.Close() }()

	name := a.cfg.Storage.ModelName
	snap, meta, err := backend.Load(ctx, name, f.version)
	if err != nil {
		return fmt.Errorf("load model %q: %w", name, err)
	}
	versions, err := backend.Versions(ctx, name)
	if err != nil {
		return err
	}

	out := inspectOutput{
		Model:    meta,
		Versions: versions,
		Summary:  summarize(snap),
	}
	if f.weights {
		out.Snapshot = snap
	}
	return a.printJSON(out)
}

func summarize(snap *fm.Snapshot) weightSummary {
	s := weightSummary{Bias: snap.Bias}
	if len(snap.Linear) > 0 {
		s.LinearL2 = floats.Norm(snap.Linear, 2)
		s.LinearMaxAbs = floats.Norm(snap.Linear, math.Inf(1))
	}

	var sq float64
	for _, row := range snap.Factors {
		n := floats.Norm(row, 2)
		sq += n * n
		if n > 0 {
			s.ActiveFactors++
		}
	}
	s.FactorsL2 = math.Sqrt(sq)
	return s
}
