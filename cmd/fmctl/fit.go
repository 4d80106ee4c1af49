// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fmengine/internal/evaluate"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/metrics"
	"github.com/tomtom215/fmengine/internal/storage"
	"github.com/tomtom215/fmengine/internal/trainer"
)

type fitFlags struct {
	data        string
	oneBased    bool
	noResume    bool
	epochs      int
	batchSize   int
	metricsAddr string
	eval        bool
}

// fitOutput is printed when training finishes.
type fitOutput struct {
	Result    *trainer.Result   `json:"result"`
	FinalLoss float64           `json:"final_loss"`
	Resumed   *storage.Metadata `json:"resumed_from,omitempty"`
	Train     *evaluate.Score   `json:"train_score,omitempty"`
}

func newFitCmd(a *app) *cobra.Command {
	f := &fitFlags{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Train a model on a LIBSVM file",
		Long: `fit trains on --data for training.epochs passes. Unless --no-resume is
given it continues from the newest stored snapshot of storage.model_name.
Snapshots are saved every training.checkpoint_every batches and at the end.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("epochs") {
				a.cfg.Training.Epochs = f.epochs
			}
			if cmd.Flags().Changed("batch-size") {
				a.cfg.Training.BatchSize = f.batchSize
			}
			if f.metricsAddr != "" {
				a.cfg.Metrics.Addr = f.metricsAddr
				a.cfg.Metrics.Enabled = true
			}
			return a.runFit(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.data, "data", "d", "", "LIBSVM training file")
	cmd.Flags().BoolVar(&f.oneBased, "one-based", false, "feature indices in the file start at 1")
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "start from a fresh model instead of the newest snapshot")
	cmd.Flags().IntVar(&f.epochs, "epochs", 0, "override training.epochs")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "override training.batch_size")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while training")
	cmd.Flags().BoolVar(&f.eval, "eval", false, "score the model on the training data when done")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func (a *app) runFit(ctx context.Context, f *fitFlags) error {
	mc, err := a.cfg.FMConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(a.cfg, mc)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("closing storage")
		}
	}()

	out := fitOutput{}
	if !f.noResume {
		if out.Resumed, err = rt.trainer.Resume(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Addr != "" {
		stop := serveMetrics(a.cfg.Metrics.Addr, rt)
		defer stop()
	}

	ds, err := rt.readDataset(f.data, f.oneBased)
	if err != nil {
		return err
	}

	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())
	out.Result, err = rt.trainer.Run(ctx, ds)
	if out.Result != nil {
		out.FinalLoss = out.Result.FinalLoss()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && out.Result != nil {
			// Report what completed before the interrupt.
			_ = a.printJSON(out)
		}
		return err
	}

	if f.eval {
		scores, err := rt.trainer.Predict(ctx, ds.X, false)
		if err != nil {
			return err
		}
		score, err := evaluate.Evaluate(rt.engine.Config().Task, scores, ds.Labels)
		if err != nil {
			return err
		}
		logging.Info().Object("score", score).Msg("training set score")
		out.Train = &score
	}

	return a.printJSON(out)
}

// serveMetrics exposes the runtime's registry on addr until the returned
// func is called.
func serveMetrics(addr string, rt *runtime) func() {
	g := rt.gatherer()
	if g == nil {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := logging.WithComponent("metrics")
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
