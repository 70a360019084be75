// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty uri", func(c *Config) { c.Database.URI = "" }, true},
		{"wrong scheme", func(c *Config) { c.Database.URI = "http://localhost" }, true},
		{"srv scheme", func(c *Config) { c.Database.URI = "mongodb+srv://cluster0.example.net" }, false},
		{"empty app db", func(c *Config) { c.Database.AppDatabase = "" }, true},
		{"empty telemetry db", func(c *Config) { c.Database.TelemetryDatabase = "" }, true},
		{"zero query timeout", func(c *Config) { c.Database.QueryTimeout = 0 }, true},
		{"rate limit zero", func(c *Config) { c.Security.RateLimitReqs = 0 }, true},
		{"rate limit zero but disabled", func(c *Config) {
			c.Security.RateLimitReqs = 0
			c.Security.RateLimitDisabled = true
		}, false},
		{"rate window too short", func(c *Config) { c.Security.RateLimitWindow = time.Millisecond }, true},
		{"buffer zero", func(c *Config) { c.Notify.BufferSize = 0 }, true},
		{"negative keepalive", func(c *Config) { c.Notify.Keepalive = -time.Second }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"console format", func(c *Config) { c.Logging.Format = "console" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()

	s := ServerConfig{Host: "0.0.0.0", Port: 3001}
	if got := s.Addr(); got != "0.0.0.0:3001" {
		t.Errorf("Addr() = %q, want 0.0.0.0:3001", got)
	}
}

func TestIsProduction(t *testing.T) {
	t.Parallel()

	for env, want := range map[string]bool{
		"production":  true,
		"PROD":        true,
		"development": false,
		"":            false,
	} {
		cfg := defaultConfig()
		cfg.Server.Environment = env
		if got := cfg.IsProduction(); got != want {
			t.Errorf("IsProduction(%q) = %v, want %v", env, got, want)
		}
	}
}

func TestHasWildcardCORS(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if !cfg.HasWildcardCORS() {
		t.Error("default origins should be wildcard")
	}
	cfg.Security.CORSOrigins = []string{"https://fleet.example.com"}
	if cfg.HasWildcardCORS() {
		t.Error("explicit origins should not be wildcard")
	}
}
