// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/models"
	"github.com/tomtom215/drivepulse/internal/validation"
)

// DriverParams is the {driverId} path parameter.
type DriverParams struct {
	DriverID string `param:"driverId" validate:"required,max=128,nocontrol"`
}

// SearchParams is the query of /search.
type SearchParams struct {
	Username string `query:"username" validate:"required,max=256,nocontrol"`
}

// UsersCards returns every user with registration cards joined in.
func (h *Handler) UsersCards(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.UsersWithCards(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("operation", "users_with_cards").Msg("Store query failed")
		writeJSON(w, http.StatusInternalServerError, models.ErrorBody{Error: msgInternalError})
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// DriverKPIs returns the driving-behavior KPIs of {driverId}.
func (h *Handler) DriverKPIs(w http.ResponseWriter, r *http.Request) {
	params, ok := driverParams(w, r)
	if !ok {
		return
	}

	docs, err := h.store.DriverKPIs(r.Context(), params.DriverID)
	if err != nil {
		respondStoreError(w, r, "driver_kpis", msgDriverKPIsFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// EcoDrivingKPIs returns the eco-driving KPIs of {driverId}.
func (h *Handler) EcoDrivingKPIs(w http.ResponseWriter, r *http.Request) {
	params, ok := driverParams(w, r)
	if !ok {
		return
	}

	docs, err := h.store.EcoDrivingKPIs(r.Context(), params.DriverID)
	if err != nil {
		respondStoreError(w, r, "eco_driving_kpis", msgEcoKPIsFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Accidents returns every accident.
func (h *Handler) Accidents(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.Accidents(r.Context())
	if err != nil {
		respondStoreError(w, r, "accidents", msgAccidentsFailed, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// SearchUsers finds users by a case-insensitive first name, last name or
// email fragment. An empty result is 404.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	params := SearchParams{Username: r.URL.Query().Get("username")}
	if verr := validation.ValidateStruct(&params); verr != nil {
		logging.Ctx(r.Context()).Debug().Str("reason", verr.Error()).Msg("Invalid search request")
		writeJSON(w, http.StatusBadRequest, messageBody(msgSearchTermMissing, nil))
		return
	}

	docs, err := h.store.SearchUsers(r.Context(), params.Username)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("operation", "search_users").Msg("Store query failed")
		writeJSON(w, http.StatusInternalServerError, messageBody(msgSearchFailed, err))
		return
	}
	if len(docs) == 0 {
		writeJSON(w, http.StatusNotFound, messageBody(msgNoUserFound, nil))
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// driverParams reads and validates {driverId}, answering 400 on failure.
func driverParams(w http.ResponseWriter, r *http.Request) (DriverParams, bool) {
	id, err := urlParam(r, "driverId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageBody(msgInvalidParameter, err))
		return DriverParams{}, false
	}
	params := DriverParams{DriverID: id}
	if verr := validation.ValidateStruct(&params); verr != nil {
		logging.Ctx(r.Context()).Debug().Str("reason", verr.Error()).Msg("Invalid driver id")
		writeJSON(w, http.StatusBadRequest, messageBody(msgInvalidParameter, verr))
		return params, false
	}
	return params, true
}
