// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fmengine/internal/logging"
)

var (
	// ErrWALClosed is returned by every operation after Close.
	ErrWALClosed = errors.New("wal: closed")

	// ErrNilRecord is returned by Append for a nil record.
	ErrNilRecord = errors.New("wal: nil record")
)

const (
	prefixFit = "fit:"
	seqKey    = "seq:fit"

	// seqBandwidth is how many sequence numbers badger leases at a time.
	seqBandwidth = 128

	// deleteBatch bounds the keys removed per write batch flush.
	deleteBatch = 1000
)

// Config controls how the WAL is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every Append before it returns.
	SyncWrites bool
}

// Stats is a point-in-time view of the WAL.
type Stats struct {
	Pending      int64  `json:"pending"`
	TotalAppends int64  `json:"total_appends"`
	TotalDeletes int64  `json:"total_deletes"`
	LastSeq      uint64 `json:"last_seq"`
}

// BadgerWAL is a BadgerDB-backed write-ahead log. It is safe for
// concurrent use.
type BadgerWAL struct {
	db       *badger.DB
	seq      *badger.Sequence
	inMemory bool

	mu     sync.RWMutex
	closed bool

	pending      atomic.Int64
	totalAppends atomic.Int64
	totalDeletes atomic.Int64
	lastSeq      atomic.Uint64
}

// Open opens or creates the WAL described by cfg.
func Open(cfg Config) (*BadgerWAL, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("wal: empty path")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		_ = db.Close() //nolint:errcheck // open already failed
		return nil, fmt.Errorf("open sequence: %w", err)
	}

	w := &BadgerWAL{db: db, seq: seq, inMemory: cfg.InMemory}
	n, last, err := w.scan()
	if err != nil {
		_ = seq.Release() //nolint:errcheck // open already failed
		_ = db.Close()    //nolint:errcheck // open already failed
		return nil, fmt.Errorf("scan records: %w", err)
	}
	w.pending.Store(n)
	w.lastSeq.Store(last)

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Int64("pending", n).
		Msg("WAL opened")
	return w, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(prefixFit)+8)
	copy(key, prefixFit)
	binary.BigEndian.PutUint64(key[len(prefixFit):], seq)
	return key
}

func parseRecordKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefixFit):])
}

// scan counts stored records and finds the highest sequence.
func (w *BadgerWAL) scan() (int64, uint64, error) {
	var (
		n    int64
		last uint64
	)
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixFit)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
			last = parseRecordKey(it.Item().Key())
		}
		return nil
	})
	return n, last, err
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Append assigns rec the next sequence number and persists it. With
// SyncWrites the record is on disk when Append returns.
func (w *BadgerWAL) Append(ctx context.Context, rec *Record) (uint64, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, ErrNilRecord
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := w.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	// Badger sequences start at 0; 0 is reserved for "nothing applied".
	seq := n + 1
	rec.Seq = seq
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}
	if err := w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(seq), data)
	}); err != nil {
		return 0, fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.pending.Add(1)
	w.totalAppends.Add(1)
	for {
		last := w.lastSeq.Load()
		if seq <= last || w.lastSeq.CompareAndSwap(last, seq) {
			break
		}
	}
	return seq, nil
}

// Delete removes one record. Deleting a missing record is not an error.
func (w *BadgerWAL) Delete(_ context.Context, seq uint64) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	removed := false
	err := w.db.Update(func(txn *badger.Txn) error {
		key := recordKey(seq)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete record %d: %w", seq, err)
	}
	if removed {
		w.pending.Add(-1)
		w.totalDeletes.Add(1)
	}
	return nil
}

// Truncate removes every record with a sequence at or below upTo and
// returns how many were removed.
func (w *BadgerWAL) Truncate(ctx context.Context, upTo uint64) (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	keys, err := w.keysUpTo(upTo)
	if err != nil {
		return 0, err
	}
	return w.deleteKeys(ctx, keys)
}

// keysUpTo lists record keys with sequence <= upTo in ascending order.
func (w *BadgerWAL) keysUpTo(upTo uint64) ([][]byte, error) {
	var keys [][]byte
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixFit)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if parseRecordKey(key) > upTo {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return keys, nil
}

func (w *BadgerWAL) deleteKeys(ctx context.Context, keys [][]byte) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += deleteBatch {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		end := min(start+deleteBatch, len(keys))

		wb := w.db.NewWriteBatch()
		for _, key := range keys[start:end] {
			if err := wb.Delete(key); err != nil {
				wb.Cancel()
				return deleted, fmt.Errorf("delete records: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return deleted, fmt.Errorf("flush deletes: %w", err)
		}

		n := end - start
		deleted += n
		w.pending.Add(int64(-n))
		w.totalDeletes.Add(int64(n))
	}
	return deleted, nil
}

// Pending returns the number of stored records.
func (w *BadgerWAL) Pending() int64 {
	return w.pending.Load()
}

// Stats returns WAL counters.
func (w *BadgerWAL) Stats() Stats {
	return Stats{
		Pending:      w.pending.Load(),
		TotalAppends: w.totalAppends.Load(),
		TotalDeletes: w.totalDeletes.Load(),
		LastSeq:      w.lastSeq.Load(),
	}
}

// RunGC reclaims value log space left by deleted records.
func (w *BadgerWAL) RunGC(discardRatio float64) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if w.inMemory {
		return nil
	}
	err := w.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("run GC: %w", err)
	}
	return nil
}

// Close releases the sequence lease and closes the database. It is safe to
// call more than once.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	seqErr := w.seq.Release()
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	if seqErr != nil {
		return fmt.Errorf("release sequence: %w", seqErr)
	}
	logging.Info().Int64("pending", w.pending.Load()).Msg("WAL closed")
	return nil
}
