// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the Drivepulse configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every setting
//  2. Config File: config.yaml / config.yml, or the per-environment
//     src/config/config.<NODE_ENV>.json file of older deployments
//  3. Environment Variables: Override any setting via the mapping table
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Notify   NotifyConfig   `koanf:"notify"`
	Alerts   AlertsConfig   `koanf:"alerts"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HOST: bind address (default: 0.0.0.0)
//   - PORT: listen port (default: 3001)
//   - HTTP_TIMEOUT: read timeout (default: 30s)
//   - NODE_ENV: development, staging, production (default: development)
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig holds MongoDB connection settings.
//
// Two logical databases are used: the application database holding users
// and registration cards, and the telemetry database holding KPIs and
// accidents.
//
// Environment Variables:
//   - MONGODB_CONNECTION_STRING: connection URI (default: mongodb://localhost:27017)
//   - MONGODB_APP_DATABASE: users and registration cards (default: test)
//   - MONGODB_TELEMETRY_DATABASE: KPIs and accidents (default: PFE)
//   - MONGODB_CONNECT_TIMEOUT: initial connect and ping timeout (default: 10s)
//   - MONGODB_QUERY_TIMEOUT: per-query deadline (default: 15s)
//   - MONGODB_MAX_POOL_SIZE: connection pool size (default: 100)
//   - MONGODB_CIRCUIT_BREAKER: wrap queries in a circuit breaker (default: true)
type DatabaseConfig struct {
	URI               string        `koanf:"uri"`
	AppDatabase       string        `koanf:"app_database"`
	TelemetryDatabase string        `koanf:"telemetry_database"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	QueryTimeout      time.Duration `koanf:"query_timeout"`
	MaxPoolSize       uint64        `koanf:"max_pool_size"`
	CircuitBreaker    bool          `koanf:"circuit_breaker"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// NotifyConfig holds notification registry settings.
//
// Environment Variables:
//   - NOTIFY_BUFFER_SIZE: frames queued per stream before it is dropped (default: 64)
//   - NOTIFY_KEEPALIVE: SSE comment interval, 0 disables (default: 0)
//   - NOTIFY_PRUNE_EMPTY: forget identifiers with no streams left (default: true)
type NotifyConfig struct {
	BufferSize int           `koanf:"buffer_size"`
	Keepalive  time.Duration `koanf:"keepalive"`
	PruneEmpty bool          `koanf:"prune_empty"`
}

// AlertsConfig controls the accident change-stream watcher.
// Change streams require a replica set or sharded cluster.
type AlertsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LoggingConfig holds logging configuration.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load loads configuration from defaults, an optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
