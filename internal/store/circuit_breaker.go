// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/models"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// Gateway is the read surface shared by Store and CircuitBreakerStore.
type Gateway interface {
	Ping(ctx context.Context) error
	UsersWithCards(ctx context.Context) ([]models.Document, error)
	DriverKPIs(ctx context.Context, driverID string) ([]models.Document, error)
	EcoDrivingKPIs(ctx context.Context, driverID string) ([]models.Document, error)
	Accidents(ctx context.Context) ([]models.Document, error)
	SearchUsers(ctx context.Context, term string) ([]models.Document, error)
	CountUsers(ctx context.Context) (int64, error)
	CarsByBrand(ctx context.Context) ([]models.BrandCount, error)
	WatchAccidents(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error)
}

var (
	_ Gateway = (*Store)(nil)
	_ Gateway = (*CircuitBreakerStore)(nil)
)

// CircuitBreakerStore wraps a Gateway with the circuit breaker pattern so
// that an unreachable MongoDB fails requests fast instead of holding them
// for the full query timeout.
//
// Circuit breaker configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 30 second timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
//
// Change streams bypass the breaker; the alerts watcher has its own restart
// backoff through the supervisor.
type CircuitBreakerStore struct {
	inner   Gateway
	cb      *gobreaker.CircuitBreaker[any]
	name    string
	metrics *metrics.Registry
}

// NewCircuitBreakerStore wraps inner. reg may be nil.
func NewCircuitBreakerStore(inner Gateway, reg *metrics.Registry) *CircuitBreakerStore {
	cbName := "mongodb"

	if reg != nil {
		reg.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	}

	c := &CircuitBreakerStore{
		inner:   inner,
		name:    cbName,
		metrics: reg,
	}

	c.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// A client hanging up is not a MongoDB failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			if reg != nil {
				reg.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
				reg.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			}
		},
	})

	return c
}

// State returns the breaker state.
func (c *CircuitBreakerStore) State() gobreaker.State {
	return c.cb.State()
}

// execute runs fn through the breaker and records the outcome.
func (c *CircuitBreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := c.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.recordResult("rejected")
			logging.Warn().Err(err).Str("breaker", c.name).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			c.recordResult("failure")
		}
		return nil, err
	}
	c.recordResult("success")
	return result, nil
}

func (c *CircuitBreakerStore) recordResult(result string) {
	if c.metrics != nil {
		c.metrics.CircuitBreakerRequests.WithLabelValues(c.name, result).Inc()
	}
}

// castResult type-asserts a breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Ping checks connectivity with circuit breaker protection.
func (c *CircuitBreakerStore) Ping(ctx context.Context) error {
	_, err := c.execute(func() (any, error) {
		return nil, c.inner.Ping(ctx)
	})
	return err
}

// UsersWithCards with circuit breaker protection.
func (c *CircuitBreakerStore) UsersWithCards(ctx context.Context) ([]models.Document, error) {
	return castResult[[]models.Document](c.execute(func() (any, error) {
		return c.inner.UsersWithCards(ctx)
	}))
}

// DriverKPIs with circuit breaker protection.
func (c *CircuitBreakerStore) DriverKPIs(ctx context.Context, driverID string) ([]models.Document, error) {
	return castResult[[]models.Document](c.execute(func() (any, error) {
		return c.inner.DriverKPIs(ctx, driverID)
	}))
}

// EcoDrivingKPIs with circuit breaker protection.
func (c *CircuitBreakerStore) EcoDrivingKPIs(ctx context.Context, driverID string) ([]models.Document, error) {
	return castResult[[]models.Document](c.execute(func() (any, error) {
		return c.inner.EcoDrivingKPIs(ctx, driverID)
	}))
}

// Accidents with circuit breaker protection.
func (c *CircuitBreakerStore) Accidents(ctx context.Context) ([]models.Document, error) {
	return castResult[[]models.Document](c.execute(func() (any, error) {
		return c.inner.Accidents(ctx)
	}))
}

// SearchUsers with circuit breaker protection.
func (c *CircuitBreakerStore) SearchUsers(ctx context.Context, term string) ([]models.Document, error) {
	return castResult[[]models.Document](c.execute(func() (any, error) {
		return c.inner.SearchUsers(ctx, term)
	}))
}

// CountUsers with circuit breaker protection.
func (c *CircuitBreakerStore) CountUsers(ctx context.Context) (int64, error) {
	return castResult[int64](c.execute(func() (any, error) {
		return c.inner.CountUsers(ctx)
	}))
}

// CarsByBrand with circuit breaker protection.
func (c *CircuitBreakerStore) CarsByBrand(ctx context.Context) ([]models.BrandCount, error) {
	return castResult[[]models.BrandCount](c.execute(func() (any, error) {
		return c.inner.CarsByBrand(ctx)
	}))
}

// WatchAccidents delegates without the breaker.
func (c *CircuitBreakerStore) WatchAccidents(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
	return c.inner.WatchAccidents(ctx, resumeAfter)
}
