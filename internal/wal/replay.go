// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package wal

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fmengine/internal/logging"
)

// ApplyFunc applies one replayed record.
type ApplyFunc func(ctx context.Context, rec *Record) error

// ReplayResult summarizes a Replay.
type ReplayResult struct {
	// Total is the number of records found.
	Total int `json:"total"`

	// Applied records were passed to the ApplyFunc without error.
	Applied int `json:"applied"`

	// Skipped records were at or below afterSeq and already covered by
	// the restored snapshot.
	Skipped int `json:"skipped"`

	// Failed records could not be decoded or were rejected by the
	// ApplyFunc. They are deleted since they would fail again.
	Failed int `json:"failed"`

	// LastSeq is the highest applied sequence, or afterSeq if none was.
	LastSeq uint64 `json:"last_seq"`

	Duration time.Duration `json:"duration"`
}

// Replay calls apply for every record above afterSeq in sequence order.
// Skipped and failed records are deleted afterwards. Cancellation stops the
// replay and leaves unvisited records in place.
func (w *BadgerWAL) Replay(ctx context.Context, afterSeq uint64, apply ApplyFunc) (*ReplayResult, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if apply == nil {
		return nil, fmt.Errorf("wal: nil apply func")
	}

	start := time.Now()
	result := &ReplayResult{LastSeq: afterSeq}
	var stale [][]byte

	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFit)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			seq := parseRecordKey(key)
			result.Total++

			if seq <= afterSeq {
				result.Skipped++
				stale = append(stale, key)
				continue
			}

			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				logging.Error().Err(err).Uint64("seq", seq).Msg("WAL replay: undecodable record dropped")
				result.Failed++
				stale = append(stale, key)
				continue
			}
			rec.Seq = seq

			if err := apply(ctx, &rec); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Error().Err(err).Uint64("seq", seq).Int("rows", rec.Rows()).Msg("WAL replay: record rejected and dropped")
				result.Failed++
				stale = append(stale, key)
				continue
			}
			result.Applied++
			result.LastSeq = seq
		}
		return nil
	})

	// Stale records are removed even when the replay stopped early.
	if _, derr := w.deleteKeys(context.WithoutCancel(ctx), stale); derr != nil {
		logging.Warn().Err(derr).Int("records", len(stale)).Msg("WAL replay: failed to drop stale records")
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("replay: %w", err)
	}

	logging.Info().
		Int("total", result.Total).
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Uint64("last_seq", result.LastSeq).
		Dur("duration", result.Duration).
		Msg("WAL replay complete")
	return result, nil
}
