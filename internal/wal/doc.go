// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package wal provides a durable write-ahead log of online fit batches
// using BadgerDB.
//
// A served model only reaches storage at checkpoints, so batches fitted
// between two checkpoints would be lost in a crash. The WAL closes that gap:
//
//	POST /fit → WAL Append (fsync) → Engine.Fit → 200
//	                                      ↓ (fit rejected)
//	                                WAL Delete
//
//	Checkpoint saved with JournalSeq=N → WAL Truncate(N)
//
// On startup the trainer restores the newest snapshot, then replays every
// record above the snapshot's JournalSeq in sequence order.
//
// # Keys
//
// Records live under "fit:" followed by the big-endian sequence number, so
// badger's key order is replay order. Sequence numbers come from a badger
// Sequence and start at 1. They are unique across restarts but may have gaps.
//
// # Usage
//
//	w, err := wal.Open(wal.Config{Path: "./data/wal", SyncWrites: true})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	seq, err := w.Append(ctx, wal.NewRecord(x, labels, nil))
//	...
//	result, err := w.Replay(ctx, meta.JournalSeq, func(ctx context.Context, rec *wal.Record) error {
//	    x, err := rec.Matrix()
//	    ...
//	})
package wal
