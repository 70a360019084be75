// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/models"
)

// CalculateTotalUsers counts users and refreshes total_users_count.
func (h *Handler) CalculateTotalUsers(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountUsers(r.Context())
	if err != nil {
		respondStoreError(w, r, "count_users", msgTotalUsersFailed, err)
		return
	}

	h.setGauge(r, metrics.GaugeTotalUsers, float64(n))
	writeJSON(w, http.StatusOK, models.TotalUsers{TotalUsers: n})
}

// CalculateCarsByBrand counts registration cards per brand and sets
// total_cars_count_by_brand to the number of brands.
func (h *Handler) CalculateCarsByBrand(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CarsByBrand(r.Context())
	if err != nil {
		respondStoreError(w, r, "cars_by_brand", msgCarsByBrandFailed, err)
		return
	}

	h.setGauge(r, metrics.GaugeTotalCarsByBrand, float64(len(counts)))
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) setGauge(r *http.Request, name string, value float64) {
	if h.metrics == nil {
		return
	}
	if err := h.metrics.SetGauge(name, value); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("gauge", name).Msg("Failed to set gauge")
	}
}
