// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/fmengine/internal/fm"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"fmengine.yaml",
	"fmengine.yml",
	"/etc/fmengine/config.yaml",
	"/etc/fmengine/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied.
func defaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			LearningRate: fm.DefaultLearningRate,
			Rank:         fm.DefaultRank,
			LambdaW:      0,
			LambdaV:      0,
			Task:         "regression",
			Intercept:    true,
			InitStdDev:   fm.DefaultInitStdDev,
			Seed:         fm.DefaultSeed,
		},
		Training: TrainingConfig{
			Epochs:          1,
			BatchSize:       1024,
			Threads:         0, // 0 = use runtime.NumCPU()
			Shuffle:         false,
			CheckpointEvery: 0,
		},
		Storage: StorageConfig{
			Backend:        BackendFile,
			Path:           "./models",
			ModelName:      "fm",
			RetainVersions: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "fmengine",
			Addr:      "",
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8080",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       60 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			MaxBodyBytes:       32 << 20,
			CheckpointInterval: 5 * time.Minute,
			CORSAllowedOrigins: nil,
			RateLimitRequests:  0,
			RateLimitWindow:    time.Minute,
		},
		WAL: WALConfig{
			Enabled:    false,
			Path:       "./data/wal",
			SyncWrites: true,
		},
	}
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config File: path if non-empty, otherwise the first of CONFIG_PATH and
//     DefaultConfigPaths that exists (optional)
//  3. Environment Variables: override any mapped setting
//
// The result is validated before it is returned.
func LoadWithKoanf(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// FM_RANK -> model.rank, LOG_LEVEL -> logging.level
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Model
	"fm_learning_rate": "model.learning_rate",
	"fm_rank":          "model.rank",
	"fm_lambda_w":      "model.lambda_w",
	"fm_lambda_v":      "model.lambda_v",
	"fm_task":          "model.task",
	"fm_intercept":     "model.intercept",
	"fm_init_stddev":   "model.init_stddev",
	"fm_seed":          "model.seed",

	// Training
	"fm_epochs":           "training.epochs",
	"fm_batch_size":       "training.batch_size",
	"fm_threads":          "training.threads",
	"fm_shuffle":          "training.shuffle",
	"fm_checkpoint_every": "training.checkpoint_every",

	// Storage
	"fm_storage_backend": "storage.backend",
	"fm_storage_path":    "storage.path",
	"fm_model_name":      "storage.model_name",
	"fm_retain_versions": "storage.retain_versions",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Metrics
	"metrics_enabled":   "metrics.enabled",
	"metrics_namespace": "metrics.namespace",
	"metrics_addr":      "metrics.addr",

	// Server
	"server_addr":                "server.addr",
	"server_read_timeout":        "server.read_timeout",
	"server_write_timeout":       "server.write_timeout",
	"server_shutdown_timeout":    "server.shutdown_timeout",
	"server_max_body_bytes":      "server.max_body_bytes",
	"server_checkpoint_interval": "server.checkpoint_interval",
	"rate_limit_requests":        "server.rate_limit_requests",
	"rate_limit_window":          "server.rate_limit_window",

	// Write-ahead log
	"wal_enabled":     "wal.enabled",
	"wal_path":        "wal.path",
	"wal_sync_writes": "wal.sync_writes",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unmapped variables return "" and are skipped so unrelated environment
// variables never reach the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
