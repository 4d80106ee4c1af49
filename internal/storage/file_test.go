// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseModelFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename    string
		wantName    string
		wantVersion int
		wantOK      bool
	}{
		{filename: "ctr_v1.gob.gz", wantName: "ctr", wantVersion: 1, wantOK: true},
		{filename: "ctr.v2_v12.gob.gz", wantName: "ctr.v2", wantVersion: 12, wantOK: true},
		{filename: "ctr_v0.gob.gz"},
		{filename: "ctr_vx.gob.gz"},
		{filename: "_v3.gob.gz"},
		{filename: "ctr_v1.gob"},
		{filename: ".snapshot-1234"},
		{filename: "notes.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			t.Parallel()
			name, version, ok := parseModelFilename(tt.filename)
			if ok != tt.wantOK || name != tt.wantName || version != tt.wantVersion {
				t.Errorf("parseModelFilename(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.filename, name, version, ok, tt.wantName, tt.wantVersion, tt.wantOK)
			}
		})
	}
}

func TestNewFileStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
	}{
		{
			name:  "creates directory if not exists",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "new", "dir") },
		},
		{
			name:  "uses existing directory",
			setup: func(t *testing.T) string { return t.TempDir() },
		},
		{
			name:    "empty path",
			setup:   func(t *testing.T) string { return "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := NewFileStore(tt.setup(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFileStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && store == nil {
				t.Error("NewFileStore() returned nil store without error")
			}
		})
	}
}

func TestFileStore_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Save(ctx, "ctr", testSnapshot(float64(i)), Metadata{}); err != nil {
			t.Fatal(err)
		}
	}

	// Stray files are ignored by the scan.
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	if v, ok := reopened.Latest("ctr"); !ok || v != 3 {
		t.Errorf("Latest() after reopen = %d, %v; want 3, true", v, ok)
	}
	meta, err := reopened.Save(ctx, "ctr", testSnapshot(9), Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Version != 4 {
		t.Errorf("Save() after reopen version = %d, want 4", meta.Version)
	}
}

func TestFileStore_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "ctr", testSnapshot(1), Metadata{}); err != nil {
		t.Fatal(err)
	}

	path := store.modelPath("ctr", 1)
	sf, err := store.readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sf.Metadata.Checksum = "0000"
	if err := store.writeFile(path, sf); err != nil {
		t.Fatal(err)
	}

	if _, _, err := store.Load(ctx, "ctr", 1); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Load() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "ctr", testSnapshot(1), Metadata{}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.modelPath("ctr", 1), []byte("not a gob"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err = store.Load(ctx, "ctr", 1)
	if err == nil {
		t.Fatal("Load() of corrupt file succeeded")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("Load() of corrupt file reported ErrNotFound: %v", err)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(context.Background(), "ctr", testSnapshot(1), Metadata{}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "ctr_v1.gob.gz" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [ctr_v1.gob.gz]", names)
	}
}
