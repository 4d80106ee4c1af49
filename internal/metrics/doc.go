// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

/*
Package metrics provides Prometheus instrumentation for training and scoring.

A Recorder owns one set of collectors registered under a namespace. The
trainer and the CLI record into it; a nil *Recorder is valid and records
nothing, so callers never branch on whether metrics are enabled.

# Available Metrics

Throughput:
  - <ns>_rows_total: rows processed (counter)
    Labels: mode (fit, predict)
  - <ns>_batches_total: batches processed (counter)
    Labels: mode
  - <ns>_batch_duration_seconds: batch latency (histogram)
    Labels: mode

Model:
  - <ns>_batch_loss: mean loss of the last fitted batch (gauge)
  - <ns>_epoch_loss: mean loss of the last completed epoch (gauge)
  - <ns>_model_features: feature-space width (gauge)
  - <ns>_model_rank: latent dimension (gauge)
  - <ns>_model_version: successful fit and restore count (gauge)
  - <ns>_model_ready: 1 once the model is initialized (gauge)

Persistence and errors:
  - <ns>_checkpoints_total: snapshot saves (counter)
    Labels: backend, result (success, error)
  - <ns>_errors_total: failed operations (counter)
    Labels: operation

Write-ahead log:
  - <ns>_wal_records_total: journal records (counter)
    Labels: op (append, replay, truncate, drop)
  - <ns>_wal_pending_records: records not yet covered by a checkpoint (gauge)

HTTP API:
  - <ns>_http_requests_total: served requests (counter)
    Labels: method, route, status
  - <ns>_http_request_duration_seconds: request latency (histogram)
    Labels: method, route
  - <ns>_http_requests_in_flight: requests being served (gauge)

# Metrics Endpoint

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg, "fmengine")
	http.Handle("/metrics", metrics.Handler(reg))
*/
package metrics
