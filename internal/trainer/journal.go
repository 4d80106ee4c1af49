// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/metrics"
	"github.com/tomtom215/fmengine/internal/wal"
)

// Journal is the write-ahead log Observe records batches in.
// *wal.BadgerWAL implements it.
type Journal interface {
	Append(ctx context.Context, rec *wal.Record) (uint64, error)
	Delete(ctx context.Context, seq uint64) error
	Truncate(ctx context.Context, upTo uint64) (int, error)
	Replay(ctx context.Context, afterSeq uint64, apply wal.ApplyFunc) (*wal.ReplayResult, error)
	Pending() int64
	Stats() wal.Stats
}

// errNoJournal is returned by Replay without an attached journal.
var errNoJournal = errors.New("trainer: no journal attached")

// AttachJournal makes Observe durable. It must be called before the first
// Observe and needs a storage backend, since only checkpoints truncate it.
func (t *Trainer) AttachJournal(j Journal) error {
	if t.backend == nil {
		return ErrNoBackend
	}
	t.observeMu.Lock()
	t.journal = j
	t.observeMu.Unlock()
	t.recorder.RecordWAL(metrics.WALAppend, 0, j.Pending())
	return nil
}

// JournalStats returns the attached journal's counters.
func (t *Trainer) JournalStats() (wal.Stats, bool) {
	if t.journal == nil {
		return wal.Stats{}, false
	}
	return t.journal.Stats(), true
}

// Replay applies journaled batches newer than the restored snapshot. Call
// it after Resume and before serving.
func (t *Trainer) Replay(ctx context.Context) (*wal.ReplayResult, error) {
	if t.journal == nil {
		return nil, errNoJournal
	}

	t.observeMu.Lock()
	defer t.observeMu.Unlock()

	res, err := t.journal.Replay(ctx, t.appliedSeq, func(ctx context.Context, rec *wal.Record) error {
		x, err := rec.Matrix()
		if err != nil {
			return err
		}
		_, err = t.fit(ctx, x, rec.Labels, rec.Weights)
		return err
	})
	if res != nil {
		t.appliedSeq = res.LastSeq
		pending := t.journal.Pending()
		t.recorder.RecordWAL(metrics.WALReplay, res.Applied, pending)
		t.recorder.RecordWAL(metrics.WALDrop, res.Skipped+res.Failed, pending)
	}
	return res, err
}

func (t *Trainer) observeJournaled(ctx context.Context, x *fm.Matrix, labels, weights []float64) (*fm.BatchResult, error) {
	t.observeMu.Lock()
	defer t.observeMu.Unlock()

	seq, err := t.journal.Append(ctx, wal.NewRecord(x, labels, weights))
	if err != nil {
		t.recorder.RecordError("wal")
		return nil, fmt.Errorf("journal batch: %w", err)
	}
	t.recorder.RecordWAL(metrics.WALAppend, 1, t.journal.Pending())

	res, err := t.fit(ctx, x, labels, weights)
	if err != nil {
		// Fit rejects input before changing state, so the record is unused.
		if derr := t.journal.Delete(context.WithoutCancel(ctx), seq); derr != nil {
			t.logger.Warn().Err(derr).Uint64("seq", seq).Msg("drop rejected journal record failed")
		}
		t.recorder.RecordWAL(metrics.WALDrop, 1, t.journal.Pending())
		return nil, err
	}
	t.appliedSeq = seq
	return res, nil
}

// capture snapshots the engine together with the journal position it
// reflects.
func (t *Trainer) capture() (*fm.Snapshot, fm.Status, uint64, error) {
	if t.journal != nil {
		t.observeMu.Lock()
		defer t.observeMu.Unlock()
	}
	snap, status, err := t.engine.SnapshotWithStatus()
	if err != nil {
		return nil, fm.Status{}, 0, err
	}
	return snap, status, t.appliedSeq, nil
}

// truncateJournal drops records a saved checkpoint now covers. Failures
// only delay cleanup; Replay skips covered records.
func (t *Trainer) truncateJournal(ctx context.Context, upTo uint64, logger zerolog.Logger) {
	if t.journal == nil || upTo == 0 {
		return
	}
	n, err := t.journal.Truncate(ctx, upTo)
	t.recorder.RecordWAL(metrics.WALTruncate, n, t.journal.Pending())
	if err != nil {
		logger.Warn().Err(err).Uint64("up_to", upTo).Msg("journal truncate failed")
		return
	}
	if n > 0 {
		logger.Debug().Int("records", n).Uint64("up_to", upTo).Msg("journal truncated")
	}
}
