// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fmengine/internal/evaluate"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/storage"
)

type evalFlags struct {
	data     string
	version  int
	oneBased bool
}

type evalOutput struct {
	Model *storage.Metadata `json:"model"`
	Score evaluate.Score    `json:"score"`
}

func newEvalCmd(a *app) *cobra.Command {
	f := &evalFlags{}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a stored model against a labelled LIBSVM file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEval(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.data, "data", "d", "", "labelled LIBSVM file")
	cmd.Flags().IntVar(&f.version, "version", 0, "snapshot version to load (0 = latest)")
	cmd.Flags().BoolVar(&f.oneBased, "one-based", false, "feature indices in the file start at 1")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func (a *app) runEval(ctx context.Context, f *evalFlags) error {
	rt, meta, err := openStoredModel(ctx, a.cfg, f.version)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ds, err := rt.readDataset(f.data, f.oneBased)
	if err != nil {
		return err
	}
	scores, err := rt.trainer.Predict(ctx, ds.X, false)
	if err != nil {
		return err
	}
	score, err := evaluate.Evaluate(rt.engine.Config().Task, scores, ds.Labels)
	if err != nil {
		return err
	}

	logging.Info().
		Str("model", meta.Name).
		Int("version", meta.Version).
		Object("score", score).
		Msg("evaluation complete")
	return a.printJSON(evalOutput{Model: meta, Score: score})
}
