// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

/*
Package api serves a factorization machine over HTTP for online learning.

Routes are built on the Chi router with go-chi/cors and go-chi/httprate
middleware. Every JSON response uses the same envelope:

	{
	  "status": "success",
	  "data": {...},
	  "metadata": {"timestamp": "...", "request_id": "..."}
	}

# Endpoints

	GET  /healthz/live           process is up
	GET  /healthz/ready          503 until the model is initialized
	GET  /metrics                Prometheus text format
	GET  /api/v1/model           engine status
	GET  /api/v1/model/snapshot  full parameter snapshot
	GET  /api/v1/model/versions  stored snapshot versions
	POST /api/v1/fit             train on a batch of sparse rows
	POST /api/v1/predict         score a batch of sparse rows
	POST /api/v1/checkpoint      save the model now

Rows are sent as parallel index and value arrays:

	{"rows": [{"indices": [0, 7], "values": [1, 0.5]}], "labels": [1]}

The first fit must carry n_features, which fixes the model width.
*/
package api
