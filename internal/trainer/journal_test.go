// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package trainer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/storage"
	"github.com/tomtom215/fmengine/internal/wal"
)

func newJournal(t *testing.T) *wal.BadgerWAL {
	t.Helper()
	w, err := wal.Open(wal.Config{InMemory: true})
	if err != nil {
		t.Fatalf("wal.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newJournaledTrainer(t *testing.T, backend storage.Backend, j Journal) *Trainer {
	t.Helper()
	tr, err := New(newEngine(t, fm.TaskRegression), backend, nil, testOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.AttachJournal(j); err != nil {
		t.Fatalf("AttachJournal() error = %v", err)
	}
	return tr
}

func TestAttachJournal_NeedsBackend(t *testing.T) {
	t.Parallel()

	tr, err := New(newEngine(t, fm.TaskRegression), nil, nil, testOptions(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.AttachJournal(newJournal(t)); !errors.Is(err, ErrNoBackend) {
		t.Errorf("AttachJournal() error = %v, want ErrNoBackend", err)
	}
	if _, err := tr.Replay(context.Background()); !errors.Is(err, errNoJournal) {
		t.Errorf("Replay() error = %v, want errNoJournal", err)
	}
	if _, ok := tr.JournalStats(); ok {
		t.Error("JournalStats() reported a journal")
	}
}

func TestJournal_CheckpointAndReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := newBackend(t)
	journal := newJournal(t)
	first := newJournaledTrainer(t, backend, journal)

	ds := regressionData(t)
	batches, err := ds.Batches(2)
	if err != nil {
		t.Fatal(err)
	}

	for _, b := range batches[:3] {
		if _, err := first.Observe(ctx, b.X, b.Labels, nil); err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
	}
	if got := journal.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}
	lastSeq := journal.Stats().LastSeq

	meta, err := first.Checkpoint(ctx)
	if err != nil || meta == nil {
		t.Fatalf("Checkpoint() = %v, %v", meta, err)
	}
	if meta.JournalSeq != lastSeq {
		t.Errorf("JournalSeq = %d, want %d", meta.JournalSeq, lastSeq)
	}
	if got := journal.Pending(); got != 0 {
		t.Errorf("Pending() after checkpoint = %d, want 0", got)
	}

	for _, b := range batches[3:] {
		if _, err := first.Observe(ctx, b.X, b.Labels, nil); err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
	}
	want, err := first.Predict(ctx, ds.X, false)
	if err != nil {
		t.Fatal(err)
	}

	// A restart: the snapshot holds three batches, the journal two more.
	second := newJournaledTrainer(t, backend, journal)
	if _, err := second.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	res, err := second.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if res.Applied != 2 || res.Failed != 0 {
		t.Errorf("Replay() = %+v, want 2 applied", res)
	}

	got, err := second.Predict(ctx, ds.X, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("row %d: replayed score %v, original %v", i, got[i], want[i])
		}
	}

	stats, ok := second.JournalStats()
	if !ok || stats.Pending != 2 {
		t.Errorf("JournalStats() = %+v, %v", stats, ok)
	}
	if _, err := second.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}
	if got := journal.Pending(); got != 0 {
		t.Errorf("Pending() after second checkpoint = %d, want 0", got)
	}
}

func TestJournal_RejectedBatchDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	journal := newJournal(t)
	tr := newJournaledTrainer(t, newBackend(t), journal)

	ds := regressionData(t)
	if _, err := tr.Observe(ctx, ds.X, ds.Labels, nil); err != nil {
		t.Fatal(err)
	}

	wide, err := fm.FromRows([]fm.SparseRow{{Indices: []int{7}, Values: []float64{1}}}, 8)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tr.Observe(ctx, wide, []float64{1}, nil)
	if !errors.Is(err, fm.ErrFeatureWidthMismatch) {
		t.Fatalf("Observe() error = %v, want ErrFeatureWidthMismatch", err)
	}
	if got := journal.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1 (rejected batch dropped)", got)
	}
}
