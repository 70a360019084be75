// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/models"
)

// Health answers 200 while the process is up. It does not touch the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Health{
		Status:    "OK",
		App:       h.appName,
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	})
}

// Metrics renders the metrics registry in the Prometheus text format.
// Scrapers negotiating protobuf or OpenMetrics are served by promhttp.
// Without a registry it answers 503.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusServiceUnavailable, messageBody(msgMetricsDisabled, nil))
		return
	}

	if wantsNegotiatedFormat(r.Header.Get("Accept")) {
		h.metrics.Handler().ServeHTTP(w, r)
		return
	}

	text, err := h.metrics.RenderAll()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to render metrics")
		writeJSON(w, http.StatusInternalServerError, messageBody(msgMetricsRenderError, nil))
		return
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(text)); err != nil {
		logging.Debug().Err(err).Msg("Failed to write metrics response")
	}
}

func wantsNegotiatedFormat(accept string) bool {
	return strings.Contains(accept, "application/vnd.google.protobuf") ||
		strings.Contains(accept, "application/openmetrics-text")
}
