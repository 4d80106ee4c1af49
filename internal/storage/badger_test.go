// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestParseModelKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key         string
		wantName    string
		wantVersion int
		wantOK      bool
	}{
		{key: string(modelKey("ctr", 7)), wantName: "ctr", wantVersion: 7, wantOK: true},
		{key: string(modelKey("ctr.v2", 1)), wantName: "ctr.v2", wantVersion: 1, wantOK: true},
		{key: "model:ctr:v0"},
		{key: "model:ctr:vabc"},
		{key: "model::v1"},
		{key: "other:ctr:v1"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			name, version, ok := parseModelKey([]byte(tt.key))
			if ok != tt.wantOK || name != tt.wantName || version != tt.wantVersion {
				t.Errorf("parseModelKey(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.key, name, version, ok, tt.wantName, tt.wantVersion, tt.wantOK)
			}
		})
	}
}

func TestModelKey_SortsByVersion(t *testing.T) {
	t.Parallel()

	if string(modelKey("ctr", 9)) >= string(modelKey("ctr", 10)) {
		t.Error("modelKey(9) does not sort before modelKey(10)")
	}
}

func TestNewBadgerStore_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := NewBadgerStore(BadgerConfig{}); err == nil {
		t.Error("NewBadgerStore() with empty path succeeded")
	}
}

func TestBadgerStore_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}

	store, err := NewBadgerStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.Save(ctx, "ctr", testSnapshot(float64(i)), Metadata{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.RunGC(0.5); err != nil {
		t.Errorf("RunGC() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBadgerStore(cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	if v, ok := reopened.Latest("ctr"); !ok || v != 2 {
		t.Errorf("Latest() after reopen = %d, %v; want 2, true", v, ok)
	}
	snap, _, err := reopened.Load(ctx, "ctr", 0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Bias != 1 {
		t.Errorf("Load().Bias = %v, want 1", snap.Bias)
	}
}

func TestBadgerStore_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestBadgerStore(t)
	if _, err := store.Save(ctx, "ctr", testSnapshot(1), Metadata{}); err != nil {
		t.Fatal(err)
	}

	// Rewrite the stored snapshot without updating its checksum.
	err := store.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey("ctr", 1))
		if err != nil {
			return err
		}
		var rec record
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return err
		}
		tampered := testSnapshot(2)
		rec.Snapshot, err = json.Marshal(tampered)
		if err != nil {
			return err
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(modelKey("ctr", 1), data)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := store.Load(ctx, "ctr", 1); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Load() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestBadgerStore_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := store.Save(ctx, "ctr", testSnapshot(1), Metadata{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Save() after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := store.Load(ctx, "ctr", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	if err := store.Prune(ctx, "ctr", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Prune() after Close error = %v, want ErrClosed", err)
	}
	if err := store.RunGC(0.5); !errors.Is(err, ErrClosed) {
		t.Errorf("RunGC() after Close error = %v, want ErrClosed", err)
	}
}

func TestBadgerStore_RecordIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestBadgerStore(t)

	ids := make(map[string]bool)
	for i := 1; i <= 3; i++ {
		if _, err := store.Save(ctx, "ctr", testSnapshot(float64(i)), Metadata{}); err != nil {
			t.Fatal(err)
		}
		err := store.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(modelKey("ctr", i))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				var rec record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				ids[rec.ID] = true
				return nil
			})
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(ids) != 3 {
		t.Errorf("got %d distinct record IDs, want 3", len(ids))
	}
}
