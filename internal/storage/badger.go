// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
)

// Key layout:
//
//	model:{name}:v{version:020d} -> record JSON
const (
	prefixModel   = "model:"
	versionMarker = ":v"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// BadgerStore keeps snapshots in an embedded BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool

	mu       sync.RWMutex
	closed   bool
	versions map[string]int
}

// record is the stored value. Snapshot is kept as raw JSON so the checksum
// covers exactly the bytes written.
type record struct {
	ID       string          `json:"id"`
	Metadata Metadata        `json:"metadata"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// NewBadgerStore opens a BadgerDB-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger store: empty path")
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

	s := &BadgerStore{
		db:       db,
		inMemory: cfg.InMemory,
		versions: make(map[string]int),
	}
	if err := s.scanModels(); err != nil {
		_ = db.Close() //nolint:errcheck // open already failed
		return nil, fmt.Errorf("scan existing models: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Int("models", len(s.versions)).
		Msg("Badger model store opened")
	return s, nil
}

func modelPrefix(name string) []byte {
	return []byte(prefixModel + name + versionMarker)
}

func modelKey(name string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", prefixModel, name, versionMarker, version))
}

// parseModelKey splits "model:ctr:v00000000000000000003" into ("ctr", 3).
func parseModelKey(key []byte) (name string, version int, ok bool) {
	rest, found := strings.CutPrefix(string(key), prefixModel)
	if !found {
		return "", 0, false
	}
	idx := strings.LastIndex(rest, versionMarker)
	if idx < 1 {
		return "", 0, false
	}
	version, err := strconv.Atoi(rest[idx+len(versionMarker):])
	if err != nil || version < 1 {
		return "", 0, false
	}
	return rest[:idx], version, true
}

// scanModels walks every key once to find the newest version per model.
func (s *BadgerStore) scanModels() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixModel)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name, version, ok := parseModelKey(it.Item().Key())
			if !ok {
				continue
			}
			if version > s.versions[name] {
				s.versions[name] = version
			}
		}
		return nil
	})
}

func (s *BadgerStore) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save implements Backend.
func (s *BadgerStore) Save(ctx context.Context, name string, snap *fm.Snapshot, meta Metadata) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	version := s.versions[name] + 1
	fillMetadata(&meta, name, version, snap, payload)
	meta.SizeBytes = int64(len(payload))

	data, err := json.Marshal(&record{
		ID:       uuid.New().String(),
		Metadata: meta,
		Snapshot: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(modelKey(name, version), data))
	})
	if err != nil {
		return nil, fmt.Errorf("write to BadgerDB: %w", err)
	}

	s.versions[name] = version
	return &meta, nil
}

// Load implements Backend.
func (s *BadgerStore) Load(ctx context.Context, name string, version int) (*fm.Snapshot, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := validateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}

	if version == 0 {
		latest, ok := s.versions[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		version = latest
	}

	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(name, version))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read from BadgerDB: %w", err)
	}

	if got := checksum(rec.Snapshot); got != rec.Metadata.Checksum {
		return nil, nil, fmt.Errorf("%w: %s v%d: expected %s, got %s",
			ErrChecksumMismatch, name, version, rec.Metadata.Checksum, got)
	}

	var snap fm.Snapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, &rec.Metadata, nil
}

// Latest implements Backend.
func (s *BadgerStore) Latest(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.versions[name]
	return version, ok
}

// Versions implements Backend.
func (s *BadgerStore) Versions(ctx context.Context, name string) ([]int, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.listVersions(ctx, name)
}

// listVersions relies on zero-padded keys iterating in version order.
func (s *BadgerStore) listVersions(ctx context.Context, name string) ([]int, error) {
	var versions []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := modelPrefix(name)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			n, v, ok := parseModelKey(it.Item().Key())
			if !ok || n != name {
				logging.Warn().Str("key", string(it.Item().Key())).Msg("Skipping malformed model key")
				continue
			}
			versions = append(versions, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// Prune implements Backend.
func (s *BadgerStore) Prune(ctx context.Context, name string, keep int) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	versions, err := s.listVersions(ctx, name)
	if err != nil {
		return err
	}
	stale := versions[:keepFrom(versions, keep)]
	if len(stale) == 0 {
		return nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, v := range stale {
			if err := txn.Delete(modelKey(name, v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete from BadgerDB: %w", err)
	}

	logging.Debug().Str("model", name).Int("removed", len(stale)).Msg("Pruned old snapshots")
	return nil
}

// RunGC reclaims value log space after pruning. In-memory stores have no
// value log and return immediately.
func (s *BadgerStore) RunGC(ratio float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.inMemory {
		return nil
	}

	for {
		err := s.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Name implements Backend.
func (s *BadgerStore) Name() string {
	return config.BackendBadger
}

// Close implements Backend. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Badger model store closed")
	return nil
}
