// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package api

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/trainer"
	"github.com/tomtom215/fmengine/internal/validation"
)

// Response is the envelope of every JSON response.
type Response struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata describes the request that produced a response.
type Metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	DurationMS float64   `json:"duration_ms,omitempty"`
}

// APIError is the error body of a failed request.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotInitialized   = "MODEL_NOT_INITIALIZED"
	CodeNoStorage        = "STORAGE_DISABLED"
	CodeBusy             = "TRAINING_IN_PROGRESS"
	CodeTooLarge         = "REQUEST_TOO_LARGE"
	CodeInternal         = "INTERNAL_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// sanitizeLogValue escapes control characters so client input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes resp with status. The request ID is filled from r.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	if resp.Metadata.Timestamp.IsZero() {
		resp.Metadata.Timestamp = time.Now().UTC()
	}
	if resp.Metadata.RequestID == "" {
		resp.Metadata.RequestID = chimiddleware.GetReqID(r.Context())
	}

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", generateETag(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondSuccess writes data in a success envelope.
func respondSuccess(w http.ResponseWriter, r *http.Request, start time.Time, data any) {
	respondJSON(w, r, http.StatusOK, &Response{
		Status:   "success",
		Data:     data,
		Metadata: Metadata{DurationMS: float64(time.Since(start).Microseconds()) / 1000},
	})
}

// respondError writes an error envelope. Server-side failures are logged.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			Str("code", code).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}

	respondJSON(w, r, status, &Response{
		Status: "error",
		Error:  &APIError{Code: code, Message: message},
	})
}

// respondValidation writes a 400 listing every failed field.
func respondValidation(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := &APIError{Code: CodeValidation, Message: err.Error()}

	var sve *validation.StructValidationError
	if errors.As(err, &sve) {
		fields := make(map[string]any, len(sve.Errors()))
		for _, fe := range sve.Errors() {
			fields[fe.Field()] = fe.Error()
		}
		apiErr.Details = map[string]any{"fields": fields}
	}

	respondJSON(w, r, http.StatusBadRequest, &Response{Status: "error", Error: apiErr})
}

// respondEngineError maps engine and trainer errors onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	respondError(w, r, status, code, message, err)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, fm.ErrNotInitialized):
		return http.StatusConflict, CodeNotInitialized
	case errors.Is(err, trainer.ErrNoBackend):
		return http.StatusConflict, CodeNoStorage
	case errors.Is(err, trainer.ErrTrainingInProgress):
		return http.StatusConflict, CodeBusy
	case errors.Is(err, fm.ErrShapeMismatch),
		errors.Is(err, fm.ErrFeatureWidthMismatch),
		errors.Is(err, fm.ErrFeatureIndex),
		errors.Is(err, fm.ErrDuplicateFeature),
		errors.Is(err, fm.ErrNonFinite),
		errors.Is(err, fm.ErrInvalidLabel):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// decodeJSON reads at most maxBytes of r's body into v and validates it.
// It writes the error response itself and reports whether to continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge,
				"request body exceeds "+strconv.FormatInt(maxBytes, 10)+" bytes", nil)
			return false
		}
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "failed to read body", nil)
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	if err := validation.ValidateStruct(v); err != nil {
		respondValidation(w, r, err)
		return false
	}
	return true
}

// generateETag returns an FNV-1a hash of data.
func generateETag(data []byte) string {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return `"` + strconv.FormatUint(uint64(h.Sum32()), 16) + `"`
}
