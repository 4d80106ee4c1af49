// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package storage persists factorization machine snapshots.
//
// Two backends implement Backend:
//
//   - FileStore writes one gob-encoded, gzip-compressed file per version:
//     {name}_v{version}.gob.gz
//   - BadgerStore keeps JSON-encoded records in BadgerDB under
//     model:{name}:v{version}
//
// Both assign versions monotonically per model name, record a SHA-256
// checksum of the encoded snapshot, and verify it on load. A snapshot
// includes the AdaGrad accumulators, so a restored engine continues
// online learning exactly where the saved one stopped.
//
// # Usage
//
//	backend, err := storage.New(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	meta, err := backend.Save(ctx, "ctr", snap, storage.Metadata{RunID: runID})
//	snap, meta, err = backend.Load(ctx, "ctr", 0) // 0 = latest
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/validation"
)

// Errors returned by every backend.
var (
	ErrNotFound         = errors.New("storage: model not found")
	ErrChecksumMismatch = errors.New("storage: checksum mismatch")
	ErrInvalidName      = errors.New("storage: invalid model name")
	ErrNilSnapshot      = errors.New("storage: nil snapshot")
	ErrClosed           = errors.New("storage: backend closed")
)

// Metadata describes one stored snapshot.
type Metadata struct {
	// Name is the model name. Versions are tracked per name.
	Name string `json:"name"`

	// Version is assigned by the backend on Save, starting at 1.
	Version int `json:"version"`

	// RunID identifies the training run that produced the snapshot.
	RunID string `json:"run_id,omitempty"`

	// Task is "regression" or "classification".
	Task string `json:"task"`

	NFeatures int `json:"n_features"`
	Rank      int `json:"rank"`

	// EngineVersion is the engine's batch counter at snapshot time.
	EngineVersion int64 `json:"engine_version"`

	// RowsFitted is the number of rows the engine had trained on.
	RowsFitted int64 `json:"rows_fitted"`

	// Loss is the mean loss of the most recent training batch.
	Loss float64 `json:"loss"`

	// JournalSeq is the last write-ahead log sequence applied to the
	// snapshot. Replay skips records at or below it.
	JournalSeq uint64 `json:"journal_seq,omitempty"`

	SavedAt time.Time `json:"saved_at"`

	// Checksum is the hex SHA-256 of the encoded snapshot.
	Checksum string `json:"checksum"`

	// SizeBytes is the stored (compressed, for FileStore) payload size.
	SizeBytes int64 `json:"size_bytes"`
}

// Backend stores and retrieves versioned model snapshots.
// Implementations are safe for concurrent use.
type Backend interface {
	// Name is the backend kind, "file" or "badger".
	Name() string

	// Save stores snap as the next version of name and returns the
	// completed metadata. Fields of meta that describe the payload
	// (Name, Version, NFeatures, Rank, SavedAt, Checksum, SizeBytes)
	// are overwritten.
	Save(ctx context.Context, name string, snap *fm.Snapshot, meta Metadata) (*Metadata, error)

	// Load returns the given version of name. Version 0 loads the latest.
	Load(ctx context.Context, name string, version int) (*fm.Snapshot, *Metadata, error)

	// Latest returns the newest version of name.
	Latest(name string) (int, bool)

	// Versions lists the stored versions of name in ascending order.
	Versions(ctx context.Context, name string) ([]int, error)

	// Prune removes all but the newest keep versions of name.
	Prune(ctx context.Context, name string, keep int) error

	Close() error
}

// New opens the backend selected by cfg. It returns a nil Backend and a nil
// error for the "none" backend.
func New(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.Path)
	case config.BackendBadger:
		return NewBadgerStore(BadgerConfig{Path: cfg.Path, SyncWrites: true})
	case config.BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// validateName applies the same rule configuration uses for model names.
func validateName(name string) error {
	if err := validation.GetValidator().Var(name, "required,model_name"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// fillMetadata sets the payload-derived fields of meta.
func fillMetadata(meta *Metadata, name string, version int, snap *fm.Snapshot, payload []byte) {
	meta.Name = name
	meta.Version = version
	meta.NFeatures = snap.NFeatures
	meta.Rank = snap.Rank
	meta.SavedAt = time.Now().UTC()
	meta.Checksum = checksum(payload)
}

// keepFrom returns the index in an ascending versions slice from which
// versions are retained when keeping the newest keep of them.
func keepFrom(versions []int, keep int) int {
	if keep < 1 {
		keep = 1
	}
	if len(versions) <= keep {
		return 0
	}
	return len(versions) - keep
}
