// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fmengine/internal/logging"
)

type predictFlags struct {
	data     string
	output   string
	proba    bool
	version  int
	oneBased bool
}

func newPredictCmd(a *app) *cobra.Command {
	f := &predictFlags{}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score a LIBSVM file with a stored model",
		Long: `predict loads a stored snapshot and writes one score per input row.
Labels in the file are ignored. With --proba a classification model writes
probabilities instead of raw scores.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPredict(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.data, "data", "d", "", "LIBSVM file to score")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write scores here instead of stdout")
	cmd.Flags().BoolVar(&f.proba, "proba", false, "write probabilities (classification only)")
	cmd.Flags().IntVar(&f.version, "version", 0, "snapshot version to load (0 = latest)")
	cmd.Flags().BoolVar(&f.oneBased, "one-based", false, "feature indices in the file start at 1")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func (a *app) runPredict(ctx context.Context, f *predictFlags) error {
	rt, meta, err := openStoredModel(ctx, a.cfg, f.version)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ds, err := rt.readDataset(f.data, f.oneBased)
	if err != nil {
		return err
	}
	scores, err := rt.trainer.Predict(ctx, ds.X, f.proba)
	if err != nil {
		return err
	}

	w := a.out
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = file.Close() }()
		w = file
	}
	if err := writeScores(w, scores); err != nil {
		return err
	}

	logging.Info().
		Str("model", meta.Name).
		Int("version", meta.Version).
		Int("rows", len(scores)).
		Bool("proba", f.proba).
		Msg("predictions written")
	return nil
}

// writeScores writes one score per line in the shortest exact form.
func writeScores(w io.Writer, scores []float64) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for _, s := range scores {
		buf = strconv.AppendFloat(buf[:0], s, 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
