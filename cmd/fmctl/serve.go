// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fmengine/internal/api"
	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/supervisor"
	"github.com/tomtom215/fmengine/internal/supervisor/services"
	"github.com/tomtom215/fmengine/internal/wal"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve online fit and predict over HTTP",
		Long: `serve resumes the newest stored snapshot, if any, and exposes the model
under /api/v1. Snapshots are saved every server.checkpoint_interval and once
more on shutdown. With wal.enabled every fit batch is journaled first and
replayed on the next start if no checkpoint covered it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "override server.addr")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
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

	if _, err := rt.trainer.Resume(ctx); err != nil {
		return err
	}
	if a.cfg.WAL.Enabled {
		journal, err := openJournal(ctx, a.cfg.WAL, rt)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := journal.Close(); cerr != nil {
				logging.Warn().Err(cerr).Msg("closing WAL")
			}
		}()
	}

	sc := a.cfg.Server
	handler := api.NewHandler(rt.trainer, rt.gatherer(), sc.MaxBodyBytes)
	mw := api.NewMiddleware(api.MiddlewareConfigFromServer(&sc))
	router := api.NewRouter(handler, mw, logging.WithComponent("api"))

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           router,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	// Leave room for the HTTP drain and the final checkpoint.
	treeCfg.ShutdownTimeout = sc.ShutdownTimeout + 5*time.Second
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logging.WithComponent("supervisor")), treeCfg)
	if err != nil {
		return err
	}

	tree.AddAPIService(services.NewHTTPServerService(srv, sc.Addr, sc.ShutdownTimeout, logging.Logger()))
	if rt.backend != nil {
		tree.AddModelService(services.NewCheckpointService(
			rt.trainer, sc.CheckpointInterval, sc.ShutdownTimeout, logging.NewRunID(), logging.Logger(),
		))
	} else {
		logging.Warn().Msg("storage.backend is none: the served model is not persisted")
	}

	logging.Info().
		Str("addr", sc.Addr).
		Str("model", a.cfg.Storage.ModelName).
		Str("backend", a.cfg.Storage.Backend).
		Dur("checkpoint_interval", sc.CheckpointInterval).
		Msg("starting server")

	// The channel receives exactly one value and is never closed.
	serveErr := <-tree.ServeBackground(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logging.Info().Msg("server stopped")
	return nil
}

// openJournal opens the WAL, replays batches newer than the restored
// snapshot, and attaches it to the trainer.
func openJournal(ctx context.Context, wc config.WALConfig, rt *runtime) (*wal.BadgerWAL, error) {
	journal, err := wal.Open(wal.Config{Path: wc.Path, SyncWrites: wc.SyncWrites})
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	if err := rt.trainer.AttachJournal(journal); err != nil {
		_ = journal.Close()
		return nil, err
	}
	if _, err := rt.trainer.Replay(ctx); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("replay WAL: %w", err)
	}
	return journal, nil
}
