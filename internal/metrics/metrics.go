// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mode label values.
const (
	ModeFit     = "fit"
	ModePredict = "predict"
)

// WAL operation label values.
const (
	WALAppend   = "append"
	WALReplay   = "replay"
	WALTruncate = "truncate"
	WALDrop     = "drop"
)

// Recorder holds the collectors for one engine.
type Recorder struct {
	RowsTotal     *prometheus.CounterVec
	BatchesTotal  *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec

	BatchLoss     prometheus.Gauge
	EpochLoss     prometheus.Gauge
	ModelFeatures prometheus.Gauge
	ModelRank     prometheus.Gauge
	ModelVersion  prometheus.Gauge
	ModelReady    prometheus.Gauge

	CheckpointsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	WALRecordsTotal *prometheus.CounterVec
	WALPending      prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
}

// NewRecorder creates and registers every collector on reg under namespace.
// It panics if the collectors are already registered on reg, like promauto.
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		RowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Total number of rows processed",
			},
			[]string{"mode"},
		),
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batches processed",
			},
			[]string{"mode"},
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of fit and predict batches in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"mode"},
		),

		BatchLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_loss",
			Help:      "Mean loss of the most recently fitted batch",
		}),
		EpochLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_loss",
			Help:      "Mean loss of the most recently completed epoch",
		}),
		ModelFeatures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_features",
			Help:      "Feature-space width of the model",
		}),
		ModelRank: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_rank",
			Help:      "Latent dimension of the model",
		}),
		ModelVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_version",
			Help:      "Number of successful fit and restore calls",
		}),
		ModelReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_ready",
			Help:      "1 if the model is initialized, 0 otherwise",
		}),

		CheckpointsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Total number of snapshot saves",
			},
			[]string{"backend", "result"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed operations",
			},
			[]string{"operation"},
		),

		WALRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wal_records_total",
				Help:      "Write-ahead log records by operation (append, replay, truncate, drop)",
			},
			[]string{"op"},
		),
		WALPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wal_pending_records",
			Help:      "Write-ahead log records not yet covered by a checkpoint",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of API requests being served",
		}),
	}
}

// RecordFit records one fitted batch.
func (r *Recorder) RecordFit(rows int, meanLoss float64, duration time.Duration) {
	if r == nil {
		return
	}
	r.RowsTotal.WithLabelValues(ModeFit).Add(float64(rows))
	r.BatchesTotal.WithLabelValues(ModeFit).Inc()
	r.BatchDuration.WithLabelValues(ModeFit).Observe(duration.Seconds())
	r.BatchLoss.Set(meanLoss)
}

// RecordPredict records one scored batch.
func (r *Recorder) RecordPredict(rows int, duration time.Duration) {
	if r == nil {
		return
	}
	r.RowsTotal.WithLabelValues(ModePredict).Add(float64(rows))
	r.BatchesTotal.WithLabelValues(ModePredict).Inc()
	r.BatchDuration.WithLabelValues(ModePredict).Observe(duration.Seconds())
}

// RecordEpoch records the mean loss of a completed epoch.
func (r *Recorder) RecordEpoch(meanLoss float64) {
	if r == nil {
		return
	}
	r.EpochLoss.Set(meanLoss)
}

// UpdateModel sets the model shape gauges.
func (r *Recorder) UpdateModel(nFeatures, rank int, version int64, ready bool) {
	if r == nil {
		return
	}
	r.ModelFeatures.Set(float64(nFeatures))
	r.ModelRank.Set(float64(rank))
	r.ModelVersion.Set(float64(version))
	if ready {
		r.ModelReady.Set(1)
	} else {
		r.ModelReady.Set(0)
	}
}

// RecordCheckpoint records a snapshot save attempt.
func (r *Recorder) RecordCheckpoint(backend string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.CheckpointsTotal.WithLabelValues(backend, result).Inc()
}

// RecordError counts a failed operation.
func (r *Recorder) RecordError(operation string) {
	if r == nil {
		return
	}
	r.ErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordWAL counts n write-ahead log records for op and sets the pending
// gauge.
func (r *Recorder) RecordWAL(op string, n int, pending int64) {
	if r == nil {
		return
	}
	if n > 0 {
		r.WALRecordsTotal.WithLabelValues(op).Add(float64(n))
	}
	r.WALPending.Set(float64(pending))
}

// TrackInFlight adjusts the in-flight request gauge.
func (r *Recorder) TrackInFlight(delta float64) {
	if r == nil {
		return
	}
	r.HTTPInFlight.Add(delta)
}

// RecordHTTPRequest records one served request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (r *Recorder) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns an HTTP handler exposing g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
