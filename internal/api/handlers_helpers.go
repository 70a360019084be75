// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/models"
)

// Client-facing messages.
const (
	msgInternalError      = "Internal Server Error"
	msgDriverKPIsFailed   = "Une erreur est survenue lors de la récupération des KPI du conducteur."
	msgAccidentsFailed    = "Une erreur est survenue lors de la récupération des accidents."
	msgEcoKPIsFailed      = "Une erreur est survenue lors de la récupération des KPIs écoconduite."
	msgSearchTermMissing  = "Veuillez fournir un terme de recherche valide"
	msgNoUserFound        = "Aucun utilisateur trouvé"
	msgSearchFailed       = "Une erreur est survenue lors de la recherche des utilisateurs"
	msgTotalUsersFailed   = "Une erreur est survenue lors du calcul du nombre total d'utilisateurs."
	msgCarsByBrandFailed  = "Une erreur est survenue lors du calcul du nombre de voitures par marque."
	msgMetricsRenderError = "Une erreur est survenue lors de la génération des métriques."
	msgMetricsDisabled    = "Les métriques ne sont pas activées."
	msgInvalidParameter   = "Paramètre invalide"
	msgRateLimited        = "Trop de requêtes, veuillez réessayer plus tard."
	msgStreamUnavailable  = "Le service de notification est indisponible."
)

// urlParam returns the decoded path parameter key. chi routes on RawPath
// when the request carries one, leaving escapes such as %2F in the value.
func urlParam(r *http.Request, key string) (string, error) {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value, nil
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return decoded, nil
}

// sanitizeLogValue removes control characters from strings to prevent log injection attacks.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// writeJSON marshals data with goccy/go-json and writes it with status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		//nolint:errcheck // HTTP response write errors are not recoverable
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func messageBody(message string, err error) models.Message {
	body := models.Message{Message: message}
	if err != nil {
		body.Error = err.Error()
	}
	return body
}

// respondStoreError logs a failed store call and answers 500 with message.
func respondStoreError(w http.ResponseWriter, r *http.Request, operation, message string, err error) {
	logging.Ctx(r.Context()).Error().
		Err(err).
		Str("operation", operation).
		Str("path", sanitizeLogValue(r.URL.Path)).
		Msg("Store query failed")
	writeJSON(w, http.StatusInternalServerError, messageBody(message, nil))
}
