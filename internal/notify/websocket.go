// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/drivepulse/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// ServeWebSocket writes frames from s to conn as text messages until ctx
// ends, s is closed or the peer goes away. Inbound messages are read and
// discarded so that pongs and close frames are processed. The connection is
// closed on return.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, s *Stream) error {
	peerGone := make(chan struct{})
	go readPump(conn, s, peerGone)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseGoingAway)
			return nil

		case <-peerGone:
			return nil

		case frame, ok := <-s.Frames():
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure)
				return nil
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.Fail()
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Fail()
				return fmt.Errorf("write message: %w", err)
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.Fail()
				return fmt.Errorf("set write deadline for ping: %w", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Fail()
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// readPump consumes inbound frames until the connection fails.
func readPump(conn *websocket.Conn, s *Stream, peerGone chan<- struct{}) {
	defer close(peerGone)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).
					Str("subscriber_id", s.Subscriber()).
					Uint64("stream_id", s.ID()).
					Msg("unexpected websocket close error")
			}
			return
		}
	}
}

// writeClose sends a close frame; errors are ignored because the
// connection is being torn down anyway.
func writeClose(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(writeWait))
}
