// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tomtom215/fmengine/internal/fm"
)

// ErrSyntax is wrapped by every parse error, together with the line number.
var ErrSyntax = errors.New("dataset: syntax error")

// maxLineBytes bounds a single sample line.
const maxLineBytes = 16 << 20

// Options controls parsing.
type Options struct {
	// NFeatures fixes the feature-space width. Indices at or beyond it are
	// rejected. 0 infers the width as max index + 1.
	NFeatures int

	// OneBased subtracts 1 from every index, for files numbered from 1.
	OneBased bool

	// Task selects label handling. Classification labels are normalized
	// to {-1, +1}.
	Task fm.Task
}

// ReadFile parses a LIBSVM file.
func ReadFile(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // error on close after read is not actionable

	ds, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Read parses LIBSVM text from r.
func Read(r io.Reader, opts Options) (*Dataset, error) {
	if opts.NFeatures < 0 {
		return nil, fmt.Errorf("n_features must be >= 0, got %d", opts.NFeatures)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		labels   []float64
		indptr   = []int{0}
		indices  []int
		values   []float64
		maxIndex = -1
		lineNo   int
	)

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		label, err := parseFloat(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: label %q", lineNo, ErrSyntax, fields[0])
		}

		for _, tok := range fields[1:] {
			if strings.HasPrefix(tok, "qid:") {
				continue
			}
			idx, val, err := parsePair(tok, opts.OneBased)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if opts.NFeatures > 0 && idx >= opts.NFeatures {
				return nil, fmt.Errorf("line %d: %w: index %d not in [0, %d)",
					lineNo, fm.ErrFeatureIndex, idx, opts.NFeatures)
			}
			if val == 0 {
				continue
			}
			maxIndex = max(maxIndex, idx)
			indices = append(indices, idx)
			values = append(values, val)
		}

		labels = append(labels, label)
		indptr = append(indptr, len(indices))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	nCols := opts.NFeatures
	if nCols == 0 {
		nCols = max(maxIndex+1, 1)
	}

	x, err := fm.NewMatrix(indptr, indices, values, nCols)
	if err != nil {
		return nil, err
	}
	if opts.Task == fm.TaskClassification {
		NormalizeLabels(labels)
	}
	if labels == nil {
		labels = []float64{}
	}
	return &Dataset{X: x, Labels: labels}, nil
}

func parsePair(tok string, oneBased bool) (int, float64, error) {
	is, vs, ok := strings.Cut(tok, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: feature %q is not index:value", ErrSyntax, tok)
	}
	idx, err := strconv.Atoi(is)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: feature index %q", ErrSyntax, is)
	}
	if oneBased {
		idx--
	}
	if idx < 0 {
		return 0, 0, fmt.Errorf("%w: index %s", fm.ErrFeatureIndex, is)
	}
	val, err := parseFloat(vs)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: feature value %q", ErrSyntax, vs)
	}
	return idx, val, nil
}

// parseFloat rejects NaN and Inf along with malformed numbers.
func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fm.ErrNonFinite
	}
	return v, nil
}
