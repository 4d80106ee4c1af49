// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package services adapts FMEngine components to suture.Service so the
// supervisor tree can start, restart, and stop them.
package services
