// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/drivepulse/internal/models"
	"github.com/tomtom215/drivepulse/internal/notify"
)

func waitForStreams(t *testing.T, r *notify.Registry, id string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Count(id) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count(%s) = %d, want %d", id, r.Count(id), want)
}

func readEvent(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")
		}
	}
}

func TestStreamSSE_ThroughRouter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeStore{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/D1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}

	waitForStreams(t, env.registry, "D1", 1)

	n, err := env.registry.Publish("D1", map[string]string{"type": "alert"})
	if err != nil || n != 1 {
		t.Fatalf("Publish = %d, %v; want 1 stream", n, err)
	}

	br := bufio.NewReader(resp.Body)
	if got := readEvent(t, br); got != `{"type":"alert"}` {
		t.Errorf("event = %q", got)
	}

	// Closing the connection unsubscribes the stream.
	cancel()
	waitForStreams(t, env.registry, "D1", 0)
	if env.registry.Has("D1") {
		t.Error("empty identifier entry not pruned")
	}
}

func TestStreamSSE_EscapedSubscriberID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeStore{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/fleet%2FD1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	waitForStreams(t, env.registry, "fleet/D1", 1)
	if env.registry.Has("fleet%2FD1") {
		t.Error("subscribed under the escaped id")
	}

	if n, _ := env.registry.Publish("fleet/D1", map[string]string{"type": "accident"}); n != 1 {
		t.Fatalf("Publish delivered = %d, want 1", n)
	}
	if got := readEvent(t, bufio.NewReader(resp.Body)); got != `{"type":"accident"}` {
		t.Errorf("event = %q", got)
	}
}

func TestStreamSSE_RegistryClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeStore{})
	env.registry.Close()

	rec := env.get(t, "/sse/D1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body models.Message
	decodeBody(t, rec, &body)
	if body.Message != msgStreamUnavailable {
		t.Errorf("message = %q", body.Message)
	}
}

func TestStreamWebSocket_ThroughRouter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeStore{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/D7"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}

	waitForStreams(t, env.registry, "D7", 1)
	if _, err := env.registry.Publish("D7", models.Notification{Type: "accident"}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(msg) != `{"type":"accident"}` {
		t.Errorf("message = %d %s", mt, msg)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitForStreams(t, env.registry, "D7", 0)
}

func TestStreamWebSocket_OriginRejected(t *testing.T) {
	t.Parallel()

	reg := notify.NewRegistry(notify.Options{})
	t.Cleanup(reg.Close)

	cfg := DefaultChiMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"https://fleet.example.com"}
	h := NewHandler(&fakeStore{}, nil, reg, HandlerOptions{})
	srv := httptest.NewServer(NewRouter(h, NewChiMiddleware(cfg), nil).SetupChi())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/D1"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if reg.Total() != 0 {
		t.Errorf("rejected upgrade left %d streams", reg.Total())
	}

	header = http.Header{"Origin": []string{"https://fleet.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = conn.Close()
}
