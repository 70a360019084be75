// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package main is the entry point for the Drivepulse server.

Drivepulse exposes driver, vehicle and accident data stored in MongoDB over a
small read-only HTTP API and pushes accident notifications to subscribed
clients over Server-Sent Events or WebSocket.

Services run under a Suture v4 supervisor tree:

	drivepulse
	├── messaging-layer
	│   ├── notify-registry
	│   └── alerts-watcher (ALERTS_ENABLED=true)
	└── api-layer
	    └── http-server

Configuration is loaded with Koanf v2 from built-in defaults, an optional
config.yaml and environment variables (highest priority). The most common
variables:

	PORT=3001
	MONGODB_CONNECTION_STRING=mongodb://localhost:27017
	MONGODB_APP_DATABASE=test
	MONGODB_TELEMETRY_DATABASE=PFE
	CORS_ORIGINS=https://fleet.example.com
	ALERTS_ENABLED=true
	LOG_LEVEL=debug LOG_FORMAT=console

An unreachable database at startup is logged and does not stop the server;
requests fail with 500 until the driver reconnects.

SIGINT and SIGTERM close all notification streams, drain in-flight requests
for up to 10 seconds and disconnect from MongoDB.
*/
package main
