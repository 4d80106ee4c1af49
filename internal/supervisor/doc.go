// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

/*
Package supervisor runs the long-lived parts of `fmctl serve` under a suture v4
supervisor tree.

	RootSupervisor ("fmengine")
	├── ModelSupervisor ("model-layer")
	│   └── CheckpointService (if a storage backend is configured)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed service is restarted by its layer. Failures back off once
FailureThreshold is exceeded and decay over FailureDecay seconds. Supervisor
events are logged through sutureslog, bridged onto zerolog by
logging.NewSlogLogger.

Services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning an error restarts the service. Returning after ctx is done stops it.
*/
package supervisor
