// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics owns the Prometheus registry exposed at /metrics.
//
// A Registry is created once at startup and injected into the store, the
// notification registry and the HTTP layer. Besides the instrumentation
// series it carries the two aggregate gauges, total_users_count and
// total_cars_count_by_brand, which change only when the matching aggregate
// endpoint is called.
//
//	reg := metrics.New()
//	_ = reg.SetGauge(metrics.GaugeTotalUsers, 42)
//	text, _ := reg.RenderAll()
package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Aggregate gauge names.
const (
	GaugeTotalUsers       = "total_users_count"
	GaugeTotalCarsByBrand = "total_cars_count_by_brand"
)

// ErrUnknownGauge is returned by SetGauge for names that were never registered.
var ErrUnknownGauge = errors.New("unknown gauge")

// Registry holds every collector of the process.
type Registry struct {
	reg    *prometheus.Registry
	gauges map[string]prometheus.Gauge

	// API Endpoint Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIActiveRequests  prometheus.Gauge

	// Store Metrics
	StoreQueryDuration *prometheus.HistogramVec
	StoreQueryErrors   *prometheus.CounterVec

	// Notification Metrics
	NotifyActiveStreams     prometheus.Gauge
	NotifyMessagesPublished prometheus.Counter
	NotifyFramesDelivered   prometheus.Counter
	NotifyStreamsDropped    *prometheus.CounterVec

	// Circuit Breaker Metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerRequests    *prometheus.CounterVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Alerts Metrics
	AlertsEventsProcessed *prometheus.CounterVec
}

// New creates a Registry with Go runtime and process collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		gauges: map[string]prometheus.Gauge{
			GaugeTotalUsers: factory.NewGauge(prometheus.GaugeOpts{
				Name: GaugeTotalUsers,
				Help: "Total number of users in the database",
			}),
			GaugeTotalCarsByBrand: factory.NewGauge(prometheus.GaugeOpts{
				Name: GaugeTotalCarsByBrand,
				Help: "Total number of cars by brand",
			}),
		},

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),
		APIActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		}),

		StoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_query_duration_seconds",
				Help:    "Duration of MongoDB operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "collection"},
		),
		StoreQueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_query_errors_total",
				Help: "Total number of failed MongoDB operations",
			},
			[]string{"operation", "collection", "error_type"},
		),

		NotifyActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notify_active_streams",
			Help: "Current number of open notification streams",
		}),
		NotifyMessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_messages_published_total",
			Help: "Total number of messages published to subscriber identifiers",
		}),
		NotifyFramesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_frames_delivered_total",
			Help: "Total number of frames queued on notification streams",
		}),
		NotifyStreamsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notify_streams_dropped_total",
				Help: "Total number of notification streams removed after a failed write",
			},
			[]string{"reason"}, // reason: "full", "write_failed"
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_requests_total",
				Help: "Total number of requests through circuit breaker",
			},
			[]string{"name", "result"}, // result: "success", "failure", "rejected"
		),
		CircuitBreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_state_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from_state", "to_state"},
		),

		AlertsEventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_events_total",
				Help: "Total number of accident change events handled by the watcher",
			},
			[]string{"outcome"}, // outcome: "published", "skipped", "decode_error"
		),
	}

	return r
}

// SetGauge sets a named aggregate gauge.
func (r *Registry) SetGauge(name string, value float64) error {
	g, ok := r.gauges[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGauge, name)
	}
	g.Set(value)
	return nil
}

// Gauge returns the current value of a named aggregate gauge.
func (r *Registry) Gauge(name string) (float64, bool) {
	g, ok := r.gauges[name]
	if !ok {
		return 0, false
	}
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0, false
	}
	return m.GetGauge().GetValue(), true
}

// RenderAll returns every registered metric in the Prometheus text format.
func (r *Registry) RenderAll() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// Handler serves the registry for Prometheus scrapes.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Prometheus returns the underlying registry for additional collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// RecordAPIRequest records an API request metric
func (r *Registry) RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	r.APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	r.APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func (r *Registry) TrackActiveRequest(inc bool) {
	if inc {
		r.APIActiveRequests.Inc()
	} else {
		r.APIActiveRequests.Dec()
	}
}

// RecordStoreQuery records a MongoDB operation and its outcome.
func (r *Registry) RecordStoreQuery(operation, collection string, duration time.Duration, err error) {
	r.StoreQueryDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		r.StoreQueryErrors.WithLabelValues(operation, collection, errorType(err)).Inc()
	}
}

// errorType keeps the error label bounded.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// RecordPublish records one Publish call and the frames it queued.
func (r *Registry) RecordPublish(delivered int) {
	r.NotifyMessagesPublished.Inc()
	r.NotifyFramesDelivered.Add(float64(delivered))
}

// RecordStreamDropped records a stream removed because a write failed.
func (r *Registry) RecordStreamDropped(reason string) {
	r.NotifyStreamsDropped.WithLabelValues(reason).Inc()
}

// TrackActiveStream tracks open notification streams.
func (r *Registry) TrackActiveStream(inc bool) {
	if inc {
		r.NotifyActiveStreams.Inc()
	} else {
		r.NotifyActiveStreams.Dec()
	}
}

// RecordAlertEvent records how the watcher handled a change event.
func (r *Registry) RecordAlertEvent(outcome string) {
	r.AlertsEventsProcessed.WithLabelValues(outcome).Inc()
}
