// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store is the MongoDB persistence gateway.
//
// A single pooled *mongo.Client serves every request. Users and registration
// cards live in the application database; driver KPIs, eco-driving KPIs and
// accidents live in the telemetry database. Every operation runs under the
// configured query timeout and is recorded in store_query_duration_seconds.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tomtom215/drivepulse/internal/config"
	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
)

// Collection names.
const (
	CollectionUsers             = "users"
	CollectionRegistrationCards = "registrationcards"
	CollectionDriverKPIs        = "DriverBehaviorKPIs"
	CollectionEcoDrivingKPIs    = "EcoDrivingKPIs"
	CollectionAccidents         = "Accidents"
)

// ErrNotConnected is returned by operations on a closed Store.
var ErrNotConnected = errors.New("store: not connected")

// Store implements the persistence gateway over a pooled client.
type Store struct {
	client    *mongo.Client
	app       *mongo.Database
	telemetry *mongo.Database

	queryTimeout time.Duration
	ownsClient   bool
	metrics      *metrics.Registry
}

// New creates a client for cfg.URI. The driver connects lazily, so New only
// fails on an invalid URI or options; call Ping to check reachability.
func New(ctx context.Context, cfg config.DatabaseConfig, reg *metrics.Registry) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("drivepulse").
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	s := NewWithClient(client, cfg, reg)
	s.ownsClient = true
	return s, nil
}

// NewWithClient wraps an existing client. Close does not disconnect it.
func NewWithClient(client *mongo.Client, cfg config.DatabaseConfig, reg *metrics.Registry) *Store {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		client:       client,
		app:          client.Database(cfg.AppDatabase),
		telemetry:    client.Database(cfg.TelemetryDatabase),
		queryTimeout: timeout,
		metrics:      reg,
	}
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	start := time.Now()
	err := s.client.Ping(ctx, readpref.Primary())
	s.record("ping", "", start, err)
	if err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	return nil
}

// Close disconnects the client when the Store created it.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	if !s.ownsClient {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	logging.Info().Msg("MongoDB client disconnected")
	return nil
}

// queryContext bounds ctx by the configured query timeout.
func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// record reports an operation to metrics and logs failures.
func (s *Store) record(operation, collection string, start time.Time, err error) {
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordStoreQuery(operation, collection, duration, err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).
			Str("operation", operation).
			Str("collection", collection).
			Dur("duration", duration).
			Msg("MongoDB operation failed")
	}
}
