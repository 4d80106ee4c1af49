// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
)

const fileSuffix = ".gob.gz"

// FileStore keeps snapshots as versioned files in one directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex

	// latest version per model name
	versions map[string]int
}

// storedFile is the on-disk format.
type storedFile struct {
	Metadata       Metadata
	CompressedData []byte
}

// NewFileStore opens (creating if needed) a file store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("file store: empty path")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil { //nolint:gosec // 0750 is acceptable for model storage
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	s := &FileStore{
		baseDir:  baseDir,
		versions: make(map[string]int),
	}

	if err := s.scanModels(); err != nil {
		return nil, fmt.Errorf("scan existing models: %w", err)
	}

	logging.Debug().
		Str("path", baseDir).
		Int("models", len(s.versions)).
		Msg("File model store opened")
	return s, nil
}

// scanModels records the newest version of every model in the directory.
func (s *FileStore) scanModels() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, version, ok := parseModelFilename(entry.Name())
		if !ok {
			continue
		}
		if current, seen := s.versions[name]; !seen || version > current {
			s.versions[name] = version
		}
	}
	return nil
}

// parseModelFilename splits "ctr_v12.gob.gz" into ("ctr", 12).
func parseModelFilename(filename string) (name string, version int, ok bool) {
	base, found := strings.CutSuffix(filename, fileSuffix)
	if !found {
		return "", 0, false
	}

	idx := strings.LastIndex(base, "_v")
	if idx < 1 {
		return "", 0, false
	}

	version, err := strconv.Atoi(base[idx+2:])
	if err != nil || version < 1 {
		return "", 0, false
	}
	return base[:idx], version, true
}

// Save implements Backend.
func (s *FileStore) Save(ctx context.Context, name string, snap *fm.Snapshot, meta Metadata) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	rawData := buf.Bytes()

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(rawData); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.versions[name] + 1
	fillMetadata(&meta, name, version, snap, rawData)
	meta.SizeBytes = int64(compressed.Len())

	sf := storedFile{
		Metadata:       meta,
		CompressedData: compressed.Bytes(),
	}
	if err := s.writeFile(s.modelPath(name, version), &sf); err != nil {
		return nil, err
	}

	s.versions[name] = version
	return &meta, nil
}

// writeFile writes sf to a temporary file and renames it into place so a
// crash never leaves a truncated version behind.
func (s *FileStore) writeFile(path string, sf *storedFile) error {
	tmp, err := os.CreateTemp(s.baseDir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(sf); err != nil {
		_ = tmp.Close()        //nolint:errcheck // write already failed
		_ = os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename model file: %w", err)
	}
	return nil
}

// Load implements Backend.
func (s *FileStore) Load(ctx context.Context, name string, version int) (*fm.Snapshot, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := validateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == 0 {
		latest, ok := s.versions[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		version = latest
	}

	sf, err := s.readFile(s.modelPath(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
		}
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sf.CompressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer func() { _ = gzr.Close() }() //nolint:errcheck // error on gzip close after read is not actionable

	rawData, err := io.ReadAll(gzr)
	if err != nil {
		return nil, nil, fmt.Errorf("read decompressed data: %w", err)
	}

	if got := checksum(rawData); got != sf.Metadata.Checksum {
		return nil, nil, fmt.Errorf("%w: %s v%d: expected %s, got %s",
			ErrChecksumMismatch, name, version, sf.Metadata.Checksum, got)
	}

	var snap fm.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(rawData)).Decode(&snap); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}

	meta := sf.Metadata
	return &snap, &meta, nil
}

func (s *FileStore) readFile(path string) (*storedFile, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from a validated model name
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // error on close after read is not actionable

	var sf storedFile
	if err := gob.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return &sf, nil
}

// Latest implements Backend.
func (s *FileStore) Latest(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.versions[name]
	return version, ok
}

// Versions implements Backend.
func (s *FileStore) Versions(ctx context.Context, name string) ([]int, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listVersions(name)
}

func (s *FileStore) listVersions(name string) ([]int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, v, ok := parseModelFilename(entry.Name())
		if ok && n == name {
			versions = append(versions, v)
		}
	}
	slices.Sort(versions)
	return versions, nil
}

// Prune implements Backend. The newest version is never removed, so the
// next Save continues the sequence.
func (s *FileStore) Prune(ctx context.Context, name string, keep int) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.listVersions(name)
	if err != nil {
		return err
	}

	removed := 0
	for _, v := range versions[:keepFrom(versions, keep)] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(s.modelPath(name, v)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete model %s v%d: %w", name, v, err)
		}
		removed++
	}

	if removed > 0 {
		logging.Debug().Str("model", name).Int("removed", removed).Msg("Pruned old snapshots")
	}
	return nil
}

// Name implements Backend.
func (s *FileStore) Name() string {
	return config.BackendFile
}

// Close implements Backend. FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) modelPath(name string, version int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_v%d%s", name, version, fileSuffix))
}
