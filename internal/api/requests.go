// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package api

import (
	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/wal"
)

// Row is one sparse sample.
type Row struct {
	Indices []int     `json:"indices" validate:"dive,gte=0"`
	Values  []float64 `json:"values" validate:"dive,finite"`
}

// FitRequest trains the model on one batch.
type FitRequest struct {
	Rows    []Row     `json:"rows" validate:"required,min=1,dive"`
	Labels  []float64 `json:"labels" validate:"required,min=1,dive,finite"`
	Weights []float64 `json:"weights,omitempty" validate:"omitempty,dive,finite"`

	// NFeatures sizes the model on the first fit. Later fits may omit it.
	NFeatures int `json:"n_features,omitempty" validate:"gte=0"`
}

// FitResponse reports the result of a fit.
type FitResponse struct {
	Rows        int       `json:"rows"`
	MeanLoss    float64   `json:"mean_loss"`
	Version     int64     `json:"version"`
	Predictions []float64 `json:"predictions"`
}

// PredictRequest scores one batch.
type PredictRequest struct {
	Rows  []Row `json:"rows" validate:"required,min=1,dive"`
	Proba bool  `json:"proba,omitempty"`
}

// PredictResponse holds one score per row, in order.
type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
	Proba       bool      `json:"proba"`
	Version     int64     `json:"version"`
}

// ModelStatus is the response of GET /api/v1/model.
type ModelStatus struct {
	fm.Status
	ModelName     string `json:"model_name,omitempty"`
	Backend       string `json:"backend,omitempty"`
	LatestVersion int    `json:"latest_version,omitempty"`

	// WAL is present when fit batches are journaled.
	WAL *wal.Stats `json:"wal,omitempty"`
}

// VersionsResponse lists stored snapshot versions.
type VersionsResponse struct {
	ModelName string `json:"model_name"`
	Backend   string `json:"backend"`
	Versions  []int  `json:"versions"`
}

// toMatrix converts rows into a CSR matrix nCols wide.
func toMatrix(rows []Row, nCols int) (*fm.Matrix, error) {
	sparse := make([]fm.SparseRow, len(rows))
	for i := range rows {
		sparse[i] = fm.SparseRow{Indices: rows[i].Indices, Values: rows[i].Values}
	}
	return fm.FromRows(sparse, nCols)
}
