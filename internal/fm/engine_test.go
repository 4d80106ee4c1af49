// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package fm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t testing.TB, cfg ModelConfig) *Engine {
	t.Helper()

	e, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

// randomBatch builds n rows over nCols features with up to nnz entries each.
//
//nolint:gosec // deterministic test data
func randomBatch(t testing.TB, seed int64, n, nCols, nnz int) (*Matrix, []float64) {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	rows := make([]SparseRow, n)
	labels := make([]float64, n)
	for i := range rows {
		perm := rng.Perm(nCols)[:nnz]
		vals := make([]float64, nnz)
		for p := range vals {
			vals[p] = rng.Float64()*2 - 1
		}
		rows[i] = SparseRow{Indices: perm, Values: vals}
		labels[i] = rng.NormFloat64()
	}
	x, err := FromRows(rows, nCols)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}
	return x, labels
}

func mustSnapshot(t *testing.T, e *Engine) *Snapshot {
	t.Helper()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(DefaultModelConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if e.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", e.State())
	}
	if e.NFeatures() != 0 || e.Version() != 0 {
		t.Errorf("NFeatures() = %d Version() = %d, want 0 and 0", e.NFeatures(), e.Version())
	}

	bad := DefaultModelConfig()
	bad.Rank = 0
	e, err = NewEngine(bad, zerolog.Nop())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewEngine() with rank 0 error = %v, want ErrInvalidConfig", err)
	}
	if e != nil {
		t.Error("NewEngine() returned an engine for an invalid config")
	}
}

func TestEngine_NotInitialized(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x, _ := FromDense([][]float64{{1, 0}})

	if _, err := e.Predict(context.Background(), x, 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Predict() error = %v, want ErrNotInitialized", err)
	}
	if _, err := e.PredictProba(context.Background(), x, 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PredictProba() error = %v, want ErrNotInitialized", err)
	}
	if _, err := e.Snapshot(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Snapshot() error = %v, want ErrNotInitialized", err)
	}
}

// Single feature, rank 2, no regularization, no intercept, label 5.
func TestEngine_SingleRowMovesTowardLabel(t *testing.T) {
	t.Parallel()

	cfg := ModelConfig{
		LearningRate: 0.1,
		Rank:         2,
		Task:         TaskRegression,
		InitStdDev:   DefaultInitStdDev,
		Seed:         DefaultSeed,
	}
	e := newTestEngine(t, cfg)
	x, err := FromRows([]SparseRow{{Indices: []int{0}, Values: []float64{1.0}}}, 1)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}

	initial, _ := newTestStore(t, 1, cfg).Snapshot()

	res, err := e.Fit(context.Background(), x, []float64{5.0}, nil, 1)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	preFit := res.Predictions[0]
	if preFit != initial.Linear[0] {
		t.Errorf("Fit() prediction = %v, want pre-update score %v", preFit, initial.Linear[0])
	}

	snap := mustSnapshot(t, e)
	if snap.Linear[0] <= initial.Linear[0] {
		t.Errorf("linear[0] = %v, want greater than initial %v", snap.Linear[0], initial.Linear[0])
	}

	preds, err := e.Predict(context.Background(), x, 1)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(preds[0]-5) >= math.Abs(preFit-5) {
		t.Errorf("post-fit prediction %v is not closer to 5 than %v", preds[0], preFit)
	}
}

func TestEngine_ShapeMismatchLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x3, labels3 := randomBatch(t, 1, 3, 6, 2)
	if _, err := e.Fit(context.Background(), x3, labels3, nil, 1); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	before := mustSnapshot(t, e)
	version := e.Version()

	_, err := e.Fit(context.Background(), x3, labels3[:2], nil, 2)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Fit() error = %v, want ErrShapeMismatch", err)
	}
	_, err = e.Fit(context.Background(), x3, labels3, []float64{1, 1}, 2)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Fit() with short weights error = %v, want ErrShapeMismatch", err)
	}

	if after := mustSnapshot(t, e); !reflect.DeepEqual(before, after) {
		t.Error("failed Fit() changed the model")
	}
	if e.Version() != version {
		t.Errorf("Version() = %d, want %d", e.Version(), version)
	}
}

func TestEngine_ShapeMismatchBeforeInitialize(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x, labels := randomBatch(t, 2, 3, 4, 2)

	if _, err := e.Fit(context.Background(), x, labels[:2], nil, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Fit() error = %v, want ErrShapeMismatch", err)
	}
	if e.State() != StateUninitialized {
		t.Error("failed Fit() initialized the model")
	}
}

func TestEngine_FeatureWidthMismatch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x4, labels := randomBatch(t, 3, 5, 4, 2)
	if _, err := e.Fit(context.Background(), x4, labels, nil, 1); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	before := mustSnapshot(t, e)

	x5, labels5 := randomBatch(t, 4, 5, 5, 2)
	if _, err := e.Fit(context.Background(), x5, labels5, nil, 1); !errors.Is(err, ErrFeatureWidthMismatch) {
		t.Errorf("Fit() error = %v, want ErrFeatureWidthMismatch", err)
	}
	if _, err := e.Predict(context.Background(), x5, 1); !errors.Is(err, ErrFeatureWidthMismatch) {
		t.Errorf("Predict() error = %v, want ErrFeatureWidthMismatch", err)
	}
	if after := mustSnapshot(t, e); !reflect.DeepEqual(before, after) {
		t.Error("width mismatch changed the model")
	}
	if e.NFeatures() != 4 {
		t.Errorf("NFeatures() = %d, want 4", e.NFeatures())
	}
}

func TestEngine_RejectsBadInputs(t *testing.T) {
	t.Parallel()

	x, _ := FromDense([][]float64{{1, 0}, {0, 1}})

	tests := []struct {
		name    string
		task    Task
		labels  []float64
		weights []float64
		wantErr error
	}{
		{name: "NaN label", task: TaskRegression, labels: []float64{1, math.NaN()}, wantErr: ErrNonFinite},
		{name: "Inf weight", task: TaskRegression, labels: []float64{1, 2}, weights: []float64{1, math.Inf(1)}, wantErr: ErrNonFinite},
		{name: "zero class label", task: TaskClassification, labels: []float64{1, 0}, wantErr: ErrInvalidLabel},
		{name: "unnormalized class label", task: TaskClassification, labels: []float64{2, -1}, wantErr: ErrInvalidLabel},
		{name: "nil labels", task: TaskRegression, labels: nil, wantErr: ErrShapeMismatch},
		{name: "nil matrix", task: TaskRegression, labels: []float64{1, 2}, wantErr: ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultModelConfig()
			cfg.Task = tt.task
			e := newTestEngine(t, cfg)

			batch := x
			if tt.name == "nil matrix" {
				batch = nil
			}
			if _, err := e.Fit(context.Background(), batch, tt.labels, tt.weights, 1); !errors.Is(err, tt.wantErr) {
				t.Errorf("Fit() error = %v, want %v", err, tt.wantErr)
			}
			if e.State() != StateUninitialized {
				t.Error("rejected Fit() initialized the model")
			}
		})
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x, labels := randomBatch(t, 5, 4, 3, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Fit(ctx, x, labels, nil, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Fit() error = %v, want context.Canceled", err)
	}
	if e.State() != StateUninitialized {
		t.Error("cancelled Fit() initialized the model")
	}
}

func TestEngine_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := DefaultModelConfig()
	cfg.Seed = 2024
	cfg.LambdaW = 0.001
	cfg.LambdaV = 0.001

	fitAll := func() (*Snapshot, []float64) {
		e := newTestEngine(t, cfg)
		var preds []float64
		for b := int64(0); b < 4; b++ {
			x, labels := randomBatch(t, 100+b, 50, 20, 4)
			res, err := e.Fit(context.Background(), x, labels, nil, 1)
			if err != nil {
				t.Fatalf("Fit() error = %v", err)
			}
			preds = append(preds, res.Predictions...)
		}
		return mustSnapshot(t, e), preds
	}

	snapA, predsA := fitAll()
	snapB, predsB := fitAll()
	if !reflect.DeepEqual(snapA, snapB) {
		t.Error("two single-threaded runs with the same seed produced different weights")
	}
	if !reflect.DeepEqual(predsA, predsB) {
		t.Error("two single-threaded runs with the same seed produced different predictions")
	}
}

func TestEngine_AccumulatorsNeverShrink(t *testing.T) {
	t.Parallel()

	cfg := DefaultModelConfig()
	cfg.Rank = 3
	cfg.LambdaW = 0.01
	cfg.LambdaV = 0.01
	e := newTestEngine(t, cfg)

	var prev *Snapshot
	for b := int64(0); b < 5; b++ {
		x, labels := randomBatch(t, 200+b, 40, 10, 3)
		if _, err := e.Fit(context.Background(), x, labels, nil, 4); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		snap := mustSnapshot(t, e)

		if snap.GradAccumBias < AccumulatorInit {
			t.Errorf("batch %d: bias accumulator %v below init", b, snap.GradAccumBias)
		}
		for j := 0; j < snap.NFeatures; j++ {
			if snap.GradAccumLinear[j] < AccumulatorInit {
				t.Errorf("batch %d: linear accumulator %d = %v below init", b, j, snap.GradAccumLinear[j])
			}
			if prev != nil && snap.GradAccumLinear[j] < prev.GradAccumLinear[j] {
				t.Errorf("batch %d: linear accumulator %d shrank", b, j)
			}
			for k := 0; k < snap.Rank; k++ {
				if prev != nil && snap.GradAccumFactors[k][j] < prev.GradAccumFactors[k][j] {
					t.Errorf("batch %d: factor accumulator [%d][%d] shrank", b, k, j)
				}
			}
		}
		prev = snap
	}
}

func TestEngine_RepeatedRowConverges(t *testing.T) {
	t.Parallel()

	cfg := ModelConfig{
		LearningRate: 0.1,
		Rank:         4,
		Task:         TaskRegression,
		Intercept:    true,
		InitStdDev:   DefaultInitStdDev,
		Seed:         7,
	}
	e := newTestEngine(t, cfg)
	x, err := FromRows([]SparseRow{{Indices: []int{0, 2, 5}, Values: []float64{1, 0.5, 0.25}}}, 6)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}
	labels := []float64{3}

	var first, prev float64
	for i := 0; i < 500; i++ {
		res, err := e.Fit(context.Background(), x, labels, nil, 1)
		if err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		sq := (res.Predictions[0] - 3) * (res.Predictions[0] - 3)
		if i == 0 {
			first = sq
		} else if sq > prev+1e-12 {
			t.Fatalf("iteration %d: squared error rose from %v to %v", i, prev, sq)
		}
		prev = sq
	}
	if prev > first/4 {
		t.Errorf("squared error %v after 500 fits, want below %v", prev, first/4)
	}
	if prev > 1e-3 {
		t.Errorf("squared error %v after 500 fits, want it to plateau below 1e-3", prev)
	}
}

func TestEngine_Restore(t *testing.T) {
	t.Parallel()

	cfg := DefaultModelConfig()
	src := newTestEngine(t, cfg)
	x, labels := randomBatch(t, 9, 30, 8, 3)
	if _, err := src.Fit(context.Background(), x, labels, nil, 2); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	snap := mustSnapshot(t, src)

	dst := newTestEngine(t, cfg)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if dst.State() != StateReady || dst.NFeatures() != 8 {
		t.Errorf("restored engine state = %v n = %d", dst.State(), dst.NFeatures())
	}

	want, _ := src.Predict(context.Background(), x, 1)
	got, err := dst.Predict(context.Background(), x, 3)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("restored engine predicts differently")
	}

	if err := dst.Restore(snap); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Restore() error = %v, want ErrAlreadyInitialized", err)
	}

	other := cfg
	other.Rank = cfg.Rank + 1
	if err := newTestEngine(t, other).Restore(snap); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Restore() with rank mismatch error = %v, want ErrInvalidConfig", err)
	}
}

func TestEngine_PredictProba(t *testing.T) {
	t.Parallel()

	cfg := DefaultModelConfig()
	cfg.Task = TaskClassification
	e := newTestEngine(t, cfg)

	x, _ := FromDense([][]float64{{1, 0, 1}, {0, 1, 1}})
	labels := []float64{1, -1}
	for i := 0; i < 50; i++ {
		if _, err := e.Fit(context.Background(), x, labels, nil, 1); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
	}

	probs, err := e.PredictProba(context.Background(), x, 1)
	if err != nil {
		t.Fatalf("PredictProba() error = %v", err)
	}
	if probs[0] <= 0.5 || probs[1] >= 0.5 {
		t.Errorf("PredictProba() = %v, want first > 0.5 and second < 0.5", probs)
	}
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("probs[%d] = %v outside [0, 1]", i, p)
		}
	}
}

func TestEngine_SnapshotWithStatus(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	if _, _, err := e.SnapshotWithStatus(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SnapshotWithStatus() before fit error = %v, want ErrNotInitialized", err)
	}

	x, labels := randomBatch(t, 11, 10, 5, 2)
	if _, err := e.Fit(context.Background(), x, labels, nil, 2); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	snap, st, err := e.SnapshotWithStatus()
	if err != nil {
		t.Fatalf("SnapshotWithStatus() error = %v", err)
	}
	want, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(snap, want) {
		t.Error("SnapshotWithStatus() snapshot differs from Snapshot()")
	}
	if st.Version != 1 || st.NFeatures != 5 || st.State != StateReady {
		t.Errorf("SnapshotWithStatus() status = %+v", st)
	}
}

func TestEngine_Status(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x, labels := randomBatch(t, 11, 10, 5, 2)

	if _, err := e.Fit(context.Background(), x, labels, nil, 2); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if _, err := e.Predict(context.Background(), x, 2); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	st := e.Status()
	if st.State != StateReady || st.NFeatures != 5 || st.Rank != DefaultRank {
		t.Errorf("Status() = %+v", st)
	}
	if st.Version != 1 || st.RowsFitted != 10 || st.RowsPredicted != 10 {
		t.Errorf("counters = version %d fitted %d predicted %d, want 1, 10, 10", st.Version, st.RowsFitted, st.RowsPredicted)
	}
	if st.Task != "regression" || st.LastFitAt.IsZero() || st.LastLoss <= 0 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEngine_ConcurrentPredictAndFit(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, DefaultModelConfig())
	x, labels := randomBatch(t, 12, 64, 16, 4)
	if _, err := e.Fit(context.Background(), x, labels, nil, 4); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				var err error
				if g%2 == 0 {
					_, err = e.Fit(context.Background(), x, labels, nil, 4)
				} else {
					var preds []float64
					preds, err = e.Predict(context.Background(), x, 2)
					if err == nil && len(preds) != x.Rows() {
						err = errors.New("wrong prediction count")
					}
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
	if got := e.Version(); got != 41 {
		t.Errorf("Version() = %d, want 41", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if StateUninitialized.String() != "uninitialized" || StateReady.String() != "ready" || State(5).String() != "unknown" {
		t.Error("unexpected State.String() values")
	}
	text, err := StateReady.MarshalText()
	if err != nil || string(text) != "ready" {
		t.Errorf("MarshalText() = %q, %v; want \"ready\"", text, err)
	}
}

func BenchmarkEngine_Fit(b *testing.B) {
	for _, threads := range []int{1, 4} {
		b.Run(fmt.Sprintf("threads=%d", threads), func(b *testing.B) {
			cfg := DefaultModelConfig()
			cfg.Rank = 16
			e := newTestEngine(b, cfg)
			x, labels := randomBatch(b, 1, 1024, 10000, 20)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.Fit(context.Background(), x, labels, nil, threads); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
