// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/middleware"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	metrics       *metrics.Registry
}

// NewRouter creates a Router. mw may be nil for the default configuration.
func NewRouter(handler *Handler, mw *ChiMiddleware, reg *metrics.Registry) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	if handler.originAllowed == nil {
		handler.originAllowed = mw.AllowedOrigin
	}
	return &Router{
		handler:       handler,
		chiMiddleware: mw,
		metrics:       reg,
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)        // X-Request-ID plus logging context
	r.Use(chimiddleware.RealIP)        // Extract real IP from X-Forwarded-For
	r.Use(middleware.AccessLog)        // One line per request
	r.Use(chimiddleware.Recoverer)     // Recover from panics
	r.Use(router.chiMiddleware.CORS()) // CORS must be global to handle OPTIONS preflight
	if router.metrics != nil {
		r.Use(middleware.PrometheusMetrics(router.metrics))
	}

	// ========================
	// Monitoring
	// ========================
	// Not rate limited: probes and scrapers poll these continuously.
	r.Get("/health", router.handler.Health)
	r.Get("/metrics", router.handler.Metrics)

	// ========================
	// Data Endpoints
	// ========================
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())

		r.Get("/userscards", router.handler.UsersCards)
		r.Get("/kpi/{driverId}", router.handler.DriverKPIs)
		r.Get("/ecodrivingkpis/{driverId}", router.handler.EcoDrivingKPIs)
		r.Get("/acc", router.handler.Accidents)
		r.Get("/search", router.handler.SearchUsers)
		r.Get("/calculateTotalUsers", router.handler.CalculateTotalUsers)
		r.Get("/calculateCarsByBrand", router.handler.CalculateCarsByBrand)

		// Streams count against the limit once, at connect time.
		r.Get("/sse/{subscriberId}", router.handler.StreamSSE)
		r.Get("/ws/{subscriberId}", router.handler.StreamWebSocket)
	})

	return r
}
