// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/models"
	"github.com/tomtom215/drivepulse/internal/notify"
)

// DataStore is the read surface the handlers query.
type DataStore interface {
	UsersWithCards(ctx context.Context) ([]models.Document, error)
	DriverKPIs(ctx context.Context, driverID string) ([]models.Document, error)
	EcoDrivingKPIs(ctx context.Context, driverID string) ([]models.Document, error)
	Accidents(ctx context.Context) ([]models.Document, error)
	SearchUsers(ctx context.Context, term string) ([]models.Document, error)
	CountUsers(ctx context.Context) (int64, error)
	CarsByBrand(ctx context.Context) ([]models.BrandCount, error)
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers_health.go: /health and /metrics
//   - handlers_core.go: collection reads and search
//   - handlers_aggregates.go: gauge-refreshing aggregates
//   - handlers_stream.go: SSE and WebSocket subscriptions
type Handler struct {
	store     DataStore
	metrics   *metrics.Registry
	registry  *notify.Registry
	keepalive time.Duration
	appName   string

	originAllowed func(origin string) bool
	now           func() time.Time
}

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// Keepalive is the SSE comment interval; zero disables it.
	Keepalive time.Duration

	// AppName is reported by /health. Default: drivepulse
	AppName string

	// OriginAllowed validates WebSocket Origin headers. Nil allows any origin.
	OriginAllowed func(origin string) bool
}

// NewHandler creates the API handler.
//
//	registry := notify.NewRegistry(notify.Options{Metrics: reg})
//	handler := api.NewHandler(st, reg, registry, api.HandlerOptions{})
//	router := api.NewRouter(handler, api.NewChiMiddleware(nil), reg)
//	http.ListenAndServe(":3001", router.SetupChi())
func NewHandler(store DataStore, reg *metrics.Registry, registry *notify.Registry, opts HandlerOptions) *Handler {
	if opts.AppName == "" {
		opts.AppName = "drivepulse"
	}
	return &Handler{
		store:         store,
		metrics:       reg,
		registry:      registry,
		keepalive:     opts.Keepalive,
		appName:       opts.AppName,
		originAllowed: opts.OriginAllowed,
		now:           time.Now,
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin applies the CORS origin list to WebSocket upgrades.
// Requests without an Origin header come from native clients and are allowed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.originAllowed == nil {
		return true
	}
	if h.originAllowed(origin) {
		return true
	}

	logging.Ctx(r.Context()).Warn().
		Str("origin", sanitizeLogValue(origin)).
		Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
