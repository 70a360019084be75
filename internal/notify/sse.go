// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

var (
	ssePrefix    = []byte("data: ")
	sseTerm      = []byte("\n\n")
	sseKeepalive = []byte(": keepalive\n\n")
)

// WriteSSEHeaders sends the event-stream response headers and flushes them
// so the client sees the stream open before the first event.
func WriteSSEHeaders(w http.ResponseWriter) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("flush event-stream headers: %w", err)
	}
	return nil
}

// ServeSSE copies frames from s to w until ctx ends or s is closed. When
// keepalive is positive a comment line is written whenever the stream has
// been idle that long. A failed write marks the stream as failed and is
// returned.
func ServeSSE(ctx context.Context, w http.ResponseWriter, s *Stream, keepalive time.Duration) error {
	rc := http.NewResponseController(w)

	var tick <-chan time.Time
	if keepalive > 0 {
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-s.Frames():
			if !ok {
				return nil
			}
			if err := writeEvent(w, rc, frame); err != nil {
				s.Fail()
				return err
			}

		case <-tick:
			if err := writeChunk(w, rc, sseKeepalive); err != nil {
				s.Fail()
				return err
			}
		}
	}
}

// writeEvent writes one "data: <frame>\n\n" event and flushes it.
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, frame []byte) error {
	buf := make([]byte, 0, len(ssePrefix)+len(frame)+len(sseTerm))
	buf = append(buf, ssePrefix...)
	buf = append(buf, frame...)
	buf = append(buf, sseTerm...)
	return writeChunk(w, rc, buf)
}

func writeChunk(w http.ResponseWriter, rc *http.ResponseController, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}
