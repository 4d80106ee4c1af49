// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package config loads FMEngine configuration from defaults, an optional YAML
// file, and environment variables, in that order of precedence (lowest first).
//
// # Example config.yaml
//
//	model:
//	  learning_rate: 0.05
//	  rank: 16
//	  task: classification
//	training:
//	  epochs: 5
//	  batch_size: 512
//	storage:
//	  backend: badger
//	  path: /var/lib/fmengine
//
// # Environment Variables
//
//	FM_LEARNING_RATE, FM_RANK, FM_LAMBDA_W, FM_LAMBDA_V, FM_TASK, FM_INTERCEPT,
//	FM_INIT_STDDEV, FM_SEED, FM_EPOCHS, FM_BATCH_SIZE, FM_THREADS, FM_SHUFFLE,
//	FM_CHECKPOINT_EVERY, FM_STORAGE_BACKEND, FM_STORAGE_PATH, FM_MODEL_NAME,
//	FM_RETAIN_VERSIONS, LOG_LEVEL, LOG_FORMAT, LOG_CALLER, METRICS_ENABLED,
//	METRICS_NAMESPACE, METRICS_ADDR, SERVER_ADDR, SERVER_READ_TIMEOUT,
//	SERVER_WRITE_TIMEOUT, SERVER_SHUTDOWN_TIMEOUT, SERVER_MAX_BODY_BYTES,
//	SERVER_CHECKPOINT_INTERVAL, RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW,
//	WAL_ENABLED, WAL_PATH, WAL_SYNC_WRITES
//
// server.cors_allowed_origins is a list and can only be set from the file.
package config

import (
	"runtime"
	"time"

	"github.com/tomtom215/fmengine/internal/fm"
	"github.com/tomtom215/fmengine/internal/logging"
)

// Storage backend names.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendNone   = "none"
)

// Config is the complete FMEngine configuration.
type Config struct {
	Model    ModelConfig    `koanf:"model"`
	Training TrainingConfig `koanf:"training"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Server   ServerConfig   `koanf:"server"`
	WAL      WALConfig      `koanf:"wal"`
}

// ModelConfig holds factorization machine hyperparameters.
type ModelConfig struct {
	LearningRate float64 `koanf:"learning_rate" validate:"gt=0,finite"`
	Rank         int     `koanf:"rank" validate:"min=1,max=4096"`
	LambdaW      float64 `koanf:"lambda_w" validate:"gte=0,finite"`
	LambdaV      float64 `koanf:"lambda_v" validate:"gte=0,finite"`
	Task         string  `koanf:"task" validate:"oneof=regression classification"`
	Intercept    bool    `koanf:"intercept"`
	InitStdDev   float64 `koanf:"init_stddev" validate:"gte=0,finite"`
	Seed         int64   `koanf:"seed"`
}

// TrainingConfig controls the online training loop.
type TrainingConfig struct {
	Epochs    int  `koanf:"epochs" validate:"min=1"`
	BatchSize int  `koanf:"batch_size" validate:"min=1"`
	Threads   int  `koanf:"threads" validate:"gte=0"` // 0 = runtime.NumCPU()
	Shuffle   bool `koanf:"shuffle"`

	// CheckpointEvery saves a snapshot after this many batches.
	// 0 saves only at the end of training.
	CheckpointEvery int `koanf:"checkpoint_every" validate:"gte=0"`
}

// StorageConfig selects where model snapshots are persisted.
type StorageConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=file badger none"`
	Path      string `koanf:"path"`
	ModelName string `koanf:"model_name" validate:"required,model_name"`

	// RetainVersions keeps only the newest N snapshots. 0 keeps all.
	RetainVersions int `koanf:"retain_versions" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config for file and env loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace" validate:"required"`
	Addr      string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// ServerConfig controls the HTTP API started by `fmctl serve`.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"min=1024"`

	// CheckpointInterval saves a snapshot this often while serving.
	// 0 disables periodic checkpoints; one is still taken on shutdown.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval" validate:"gte=0"`

	// CORSAllowedOrigins enables CORS for these origins. Empty disables it.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// RateLimitRequests per RateLimitWindow per client IP. 0 disables limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// WALConfig controls the write-ahead log of online fit batches used by
// `fmctl serve`. It needs a storage backend, since checkpoints truncate it.
type WALConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// FMConfig converts the model section into an fm.ModelConfig.
func (c *Config) FMConfig() (fm.ModelConfig, error) {
	task, err := fm.ParseTask(c.Model.Task)
	if err != nil {
		return fm.ModelConfig{}, err
	}

	mc := fm.ModelConfig{
		LearningRate: c.Model.LearningRate,
		Rank:         c.Model.Rank,
		LambdaW:      c.Model.LambdaW,
		LambdaV:      c.Model.LambdaV,
		Task:         task,
		Intercept:    c.Model.Intercept,
		InitStdDev:   c.Model.InitStdDev,
		Seed:         c.Model.Seed,
	}
	if err := mc.Validate(); err != nil {
		return fm.ModelConfig{}, err
	}
	return mc, nil
}

// EffectiveThreads returns Training.Threads, or runtime.NumCPU() when it is 0.
func (c *Config) EffectiveThreads() int {
	if c.Training.Threads > 0 {
		return c.Training.Threads
	}
	return runtime.NumCPU()
}

// LoggingSettings converts the logging section into a logging.Config.
func (c *Config) LoggingSettings() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}
