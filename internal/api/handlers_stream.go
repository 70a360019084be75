// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/notify"
)

// StreamSSE subscribes the connection to {subscriberId} and streams
// notifications as Server-Sent Events until the client disconnects.
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}

	s, err := h.registry.Subscribe(id)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("subscriber_id", sanitizeLogValue(id)).Msg("SSE subscribe failed")
		writeJSON(w, http.StatusServiceUnavailable, messageBody(msgStreamUnavailable, nil))
		return
	}
	defer h.registry.Unsubscribe(id, s)

	if err := notify.WriteSSEHeaders(w); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("SSE client went away before headers")
		return
	}

	if err := notify.ServeSSE(r.Context(), w, s, h.keepalive); err != nil {
		logging.Ctx(r.Context()).Debug().
			Err(err).
			Str("subscriber_id", sanitizeLogValue(id)).
			Uint64("stream_id", s.ID()).
			Msg("SSE stream ended with write error")
	}
}

// StreamWebSocket upgrades the connection and streams notifications for
// {subscriberId} as WebSocket text messages.
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s, err := h.registry.Subscribe(id)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("subscriber_id", sanitizeLogValue(id)).Msg("WebSocket subscribe failed")
		_ = conn.Close()
		return
	}
	defer h.registry.Unsubscribe(id, s)

	if err := notify.ServeWebSocket(r.Context(), conn, s); err != nil {
		logging.Ctx(r.Context()).Debug().
			Err(err).
			Str("subscriber_id", sanitizeLogValue(id)).
			Uint64("stream_id", s.ID()).
			Msg("WebSocket stream ended with write error")
	}
}

func subscriberID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := urlParam(r, "subscriberId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageBody(msgInvalidParameter, err))
		return "", false
	}
	return id, true
}
