// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/storage"
)

// Checkpointer saves the model when it has changed. *trainer.Trainer
// implements it.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (*storage.Metadata, error)
}

// CheckpointService saves the model on an interval and once more on
// shutdown, so online updates survive a restart.
type CheckpointService struct {
	checkpointer Checkpointer
	interval     time.Duration
	finalTimeout time.Duration
	runID        string
	logger       zerolog.Logger
}

// NewCheckpointService creates the service. An interval of 0 only saves on
// shutdown. runID tags every snapshot the service writes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewCheckpointService(cp Checkpointer, interval, finalTimeout time.Duration, runID string, logger zerolog.Logger) *CheckpointService {
	if finalTimeout <= 0 {
		finalTimeout = 30 * time.Second
	}
	return &CheckpointService{
		checkpointer: cp,
		interval:     interval,
		finalTimeout: finalTimeout,
		runID:        runID,
		logger:       logger.With().Str("service", "checkpoint").Str("run_id", runID).Logger(),
	}
}

// Serve implements suture.Service. Save failures are logged and retried on
// the next tick rather than restarting the service.
func (s *CheckpointService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("checkpoint service starting")

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// ctx is already canceled; the last save gets its own deadline.
			finalCtx, cancel := context.WithTimeout(context.Background(), s.finalTimeout)
			s.save(finalCtx, "final")
			cancel()
			return ctx.Err()

		case <-tick:
			s.save(ctx, "periodic")
		}
	}
}

func (s *CheckpointService) save(ctx context.Context, reason string) {
	ctx = logging.ContextWithRunID(ctx, s.runID)
	meta, err := s.checkpointer.Checkpoint(ctx)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("reason", reason).Msg("checkpoint failed")
	case meta == nil:
		s.logger.Debug().Str("reason", reason).Msg("model unchanged, checkpoint skipped")
	default:
		s.logger.Info().
			Str("reason", reason).
			Str("model", meta.Name).
			Int("version", meta.Version).
			Msg("checkpoint written")
	}
}

// String names the service in supervisor events.
func (s *CheckpointService) String() string {
	return "checkpoint"
}
