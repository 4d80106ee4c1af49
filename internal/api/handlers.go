// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/metrics"
	"github.com/tomtom215/fmengine/internal/trainer"
)

// DefaultMaxBodyBytes bounds request bodies when the handler is given 0.
const DefaultMaxBodyBytes = 32 << 20

// Handler serves one trainer over HTTP.
type Handler struct {
	trainer      *trainer.Trainer
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
	startTime    time.Time
}

// NewHandler creates a handler. gatherer may be nil, which disables /metrics.
func NewHandler(tr *trainer.Trainer, gatherer prometheus.Gatherer, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		trainer:      tr,
		gatherer:     gatherer,
		maxBodyBytes: maxBodyBytes,
		startTime:    time.Now(),
	}
}

// HealthLive reports that the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, &Response{
		Status: "success",
		Data: map[string]any{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
	})
}

// HealthReady returns 503 until the model can serve predictions.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := h.trainer.Engine().State() == fm.StateReady

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, r, code, &Response{
		Status: status,
		Data: map[string]any{
			"model_ready": ready,
			"uptime":      time.Since(h.startTime).Seconds(),
		},
	})
}

// Metrics serves the Prometheus registry.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.gatherer == nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "metrics are disabled", nil)
		return
	}
	metrics.Handler(h.gatherer).ServeHTTP(w, r)
}

// ModelStatus reports the engine status and the newest stored version.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := ModelStatus{Status: h.trainer.Engine().Status()}
	if b := h.trainer.Backend(); b != nil {
		resp.ModelName = h.trainer.ModelName()
		resp.Backend = b.Name()
		resp.LatestVersion, _ = b.Latest(resp.ModelName)
	}
	if stats, ok := h.trainer.JournalStats(); ok {
		resp.WAL = &stats
	}
	respondSuccess(w, r, start, resp)
}

// Snapshot returns every model parameter.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap, err := h.trainer.Engine().Snapshot()
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, start, snap)
}

// Versions lists the stored snapshot versions, oldest first.
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	b := h.trainer.Backend()
	if b == nil {
		respondEngineError(w, r, trainer.ErrNoBackend)
		return
	}
	versions, err := b.Versions(r.Context(), h.trainer.ModelName())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if versions == nil {
		versions = []int{}
	}
	respondSuccess(w, r, start, VersionsResponse{
		ModelName: h.trainer.ModelName(),
		Backend:   b.Name(),
		Versions:  versions,
	})
}

// Fit trains on the request batch and returns each row's pre-update score.
func (h *Handler) Fit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req FitRequest
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	nCols := req.NFeatures
	if nCols == 0 {
		nCols = h.trainer.Engine().NFeatures()
	}
	if nCols == 0 {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest,
			"n_features is required before the model is initialized", nil)
		return
	}

	x, err := toMatrix(req.Rows, nCols)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	res, err := h.trainer.Observe(r.Context(), x, req.Labels, req.Weights)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Debug().
		Int("rows", x.Rows()).
		Float64("mean_loss", res.MeanLoss()).
		Msg("online fit")

	respondSuccess(w, r, start, FitResponse{
		Rows:        x.Rows(),
		MeanLoss:    res.MeanLoss(),
		Version:     h.trainer.Engine().Version(),
		Predictions: res.Predictions,
	})
}

// Predict scores the request batch.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req PredictRequest
	if !decodeJSON(w, r, h.maxBodyBytes, &req) {
		return
	}

	nCols := h.trainer.Engine().NFeatures()
	if nCols == 0 {
		respondEngineError(w, r, fm.ErrNotInitialized)
		return
	}
	x, err := toMatrix(req.Rows, nCols)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	scores, err := h.trainer.Predict(r.Context(), x, req.Proba)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondSuccess(w, r, start, PredictResponse{
		Predictions: scores,
		Proba:       req.Proba,
		Version:     h.trainer.Engine().Version(),
	})
}

// Checkpoint saves the model now. It returns null data when nothing changed
// since the last save.
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	meta, err := h.trainer.Checkpoint(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondSuccess(w, r, start, map[string]any{
		"saved":    meta != nil,
		"snapshot": meta,
	})
}
