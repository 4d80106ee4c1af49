// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package config

import (
	"fmt"

	"github.com/tomtom215/fmengine/internal/logging"
	"github.com/tomtom215/fmengine/internal/validation"
)

// Validate checks struct tags first, then rules that span fields.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateWAL(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateStorage requires a path for every backend that writes to disk.
func (c *Config) validateStorage() error {
	if c.Storage.Backend != BackendNone && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage.backend=%s", c.Storage.Backend)
	}
	return nil
}

// validateWAL requires a path and a checkpoint target for an enabled WAL.
func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required when wal.enabled=true")
	}
	if c.Storage.Backend == BackendNone {
		return fmt.Errorf("wal.enabled=true requires a storage backend")
	}
	return nil
}

// validateLogging rejects log levels zerolog would silently map to info.
func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
