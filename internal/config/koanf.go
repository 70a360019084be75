// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/drivepulse/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LegacyConfigDir holds the per-environment JSON files
// (config.development.json, config.production.json, ...).
var LegacyConfigDir = filepath.Join("src", "config")

// legacyKeys maps top-level keys of the per-environment JSON files to koanf paths.
var legacyKeys = map[string]string{
	"MONGODB_CONNECTION_STRING": "database.uri",
	"PORT":                      "server.port",
}

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3001,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			URI:               "mongodb://localhost:27017",
			AppDatabase:       "test",
			TelemetryDatabase: "PFE",
			ConnectTimeout:    10 * time.Second,
			QueryTimeout:      15 * time.Second,
			MaxPoolSize:       100,
			CircuitBreaker:    true,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     300,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Notify: NotifyConfig{
			BufferSize: 64,
			Keepalive:  0,
			PruneEmpty: true,
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML file, or the per-environment JSON file
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if legacyPath := findLegacyConfigFile(); legacyPath != "" {
		if err := loadLegacyFile(k, legacyPath); err != nil {
			return nil, err
		}
	}

	// MONGODB_CONNECTION_STRING -> database.uri, PORT -> server.port
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
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

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
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

// findLegacyConfigFile returns src/config/config.<NODE_ENV>.json when present.
func findLegacyConfigFile() string {
	environment := os.Getenv("NODE_ENV")
	if environment == "" {
		environment = "development"
	}
	path := filepath.Join(LegacyConfigDir, "config."+environment+".json")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// loadLegacyFile reads a flat JSON file through the YAML parser (JSON is a
// YAML subset) and copies the recognized keys into k.
func loadLegacyFile(k *koanf.Koanf, path string) error {
	legacy := koanf.New(".")
	if err := legacy.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	for key, target := range legacyKeys {
		if val := legacy.Get(key); val != nil {
			if err := k.Set(target, val); err != nil {
				return fmt.Errorf("failed to set %s: %w", target, err)
			}
		}
	}
	return nil
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Server
	"host":         "server.host",
	"port":         "server.port",
	"http_timeout": "server.timeout",
	"node_env":     "server.environment",

	// Database
	"mongodb_connection_string":  "database.uri",
	"mongodb_app_database":       "database.app_database",
	"mongodb_telemetry_database": "database.telemetry_database",
	"mongodb_connect_timeout":    "database.connect_timeout",
	"mongodb_query_timeout":      "database.query_timeout",
	"mongodb_max_pool_size":      "database.max_pool_size",
	"mongodb_circuit_breaker":    "database.circuit_breaker",

	// Security
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	// Notifications
	"notify_buffer_size": "notify.buffer_size",
	"notify_keepalive":   "notify.keepalive",
	"notify_prune_empty": "notify.prune_empty",

	// Alerts
	"alerts_enabled": "alerts.enabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables return an empty key and are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
