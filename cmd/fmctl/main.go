// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Command fmctl trains, evaluates, inspects, and serves factorization
// machine models.
//
//	fmctl fit --data train.libsvm
//	fmctl eval --data test.libsvm
//	fmctl predict --data new.libsvm --proba --output scores.txt
//	fmctl inspect --version 3
//	fmctl serve
//
// Settings come from fmengine.yaml (or --config) and environment variables;
// see package config for the full list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/fmengine/internal/logging"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
