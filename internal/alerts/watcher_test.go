// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/models"
	"github.com/tomtom215/drivepulse/internal/notify"
	"github.com/tomtom215/drivepulse/internal/store"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

// fakeStream replays encoded change events, then ends with err.
type fakeStream struct {
	mu     sync.Mutex
	events []bson.Raw
	cur    bson.Raw
	err    error
	block  bool
	closed bool
}

func newFakeStream(t *testing.T, events ...bson.D) *fakeStream {
	t.Helper()
	fs := &fakeStream{}
	for _, ev := range events {
		raw, err := bson.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		fs.events = append(fs.events, raw)
	}
	return fs
}

func (f *fakeStream) Next(ctx context.Context) bool {
	f.mu.Lock()
	if len(f.events) > 0 {
		f.cur, f.events = f.events[0], f.events[1:]
		f.mu.Unlock()
		return true
	}
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
	}
	return false
}

func (f *fakeStream) Decode(val interface{}) error { return bson.Unmarshal(f.cur, val) }

func (f *fakeStream) Err() error { return f.err }

func (f *fakeStream) ResumeToken() bson.Raw {
	v, err := f.cur.LookupErr("_id")
	if err != nil {
		return nil
	}
	token, ok := v.DocumentOK()
	if !ok {
		return nil
	}
	return token
}

func (f *fakeStream) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeSource hands out streams in order, then stream, and records the resume
// token of every open.
type fakeSource struct {
	stream  store.ChangeStream
	err     error
	opens   []fakeOpen
	resumes []bson.Raw
}

type fakeOpen struct {
	stream store.ChangeStream
	err    error
}

func (s *fakeSource) WatchAccidents(_ context.Context, resumeAfter bson.Raw) (store.ChangeStream, error) {
	s.resumes = append(s.resumes, resumeAfter)
	if len(s.opens) > 0 {
		next := s.opens[0]
		s.opens = s.opens[1:]
		return next.stream, next.err
	}
	return s.stream, s.err
}

func resumeToken(t *testing.T, data string) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(bson.D{{Key: "_data", Value: data}})
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}
	return raw
}

func insertEvent(doc bson.D) bson.D {
	return insertEventAt("token", doc)
}

func insertEventAt(token string, doc bson.D) bson.D {
	return bson.D{
		{Key: "_id", Value: bson.D{{Key: "_data", Value: token}}},
		{Key: "operationType", Value: "insert"},
		{Key: "fullDocument", Value: doc},
	}
}

func TestWatcher_PublishesToDriver(t *testing.T) {
	t.Parallel()

	reg := metrics.New()
	registry := notify.NewRegistry(notify.Options{BufferSize: 4, PruneEmpty: true})
	d1, err := registry.Subscribe("D1")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := registry.Subscribe("D2")
	if err != nil {
		t.Fatal(err)
	}

	fs := newFakeStream(t, insertEvent(bson.D{
		{Key: "DriverId", Value: "D1"},
		{Key: "severity", Value: "major"},
		{Key: "location", Value: bson.D{{Key: "city", Value: "Sfax"}}},
	}))
	w := NewWatcher(&fakeSource{stream: fs}, registry, reg)

	if err := w.Serve(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Serve = %v, want ErrStreamClosed", err)
	}
	if !fs.closed {
		t.Error("change stream not closed")
	}

	select {
	case frame := <-d1.Frames():
		var got struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("unmarshal frame %s: %v", frame, err)
		}
		if got.Type != "accident" || got.Data["severity"] != "major" || got.Data["DriverId"] != "D1" {
			t.Errorf("unexpected notification %s", frame)
		}
		if loc, ok := got.Data["location"].(map[string]any); !ok || loc["city"] != "Sfax" {
			t.Errorf("location not rendered as an object: %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("D1 received nothing")
	}

	select {
	case frame := <-d2.Frames():
		t.Errorf("D2 received %s", frame)
	default:
	}

	if got := testutil.ToFloat64(reg.AlertsEventsProcessed.WithLabelValues(OutcomePublished)); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
}

func TestWatcher_Outcomes(t *testing.T) {
	t.Parallel()

	reg := metrics.New()
	registry := notify.NewRegistry(notify.Options{BufferSize: 4})

	fs := newFakeStream(t,
		insertEvent(bson.D{{Key: "severity", Value: "minor"}}),
		insertEvent(bson.D{{Key: "DriverId", Value: "nobody"}}),
		bson.D{{Key: "operationType", Value: 42}},
	)
	w := NewWatcher(&fakeSource{stream: fs}, registry, reg)
	_ = w.Serve(context.Background())

	tests := map[string]float64{
		OutcomeSkipped:       1,
		OutcomeNoSubscribers: 1,
		OutcomeDecodeError:   1,
		OutcomePublished:     0,
	}
	for outcome, want := range tests {
		if got := testutil.ToFloat64(reg.AlertsEventsProcessed.WithLabelValues(outcome)); got != want {
			t.Errorf("%s = %v, want %v", outcome, got, want)
		}
	}
}

func TestWatcher_Errors(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	t.Run("open failure", func(t *testing.T) {
		t.Parallel()
		w := NewWatcher(&fakeSource{err: errBoom}, notify.NewRegistry(notify.Options{}), nil)
		if err := w.Serve(context.Background()); !errors.Is(err, errBoom) {
			t.Errorf("Serve = %v, want %v", err, errBoom)
		}
	})

	t.Run("stream failure", func(t *testing.T) {
		t.Parallel()
		fs := newFakeStream(t)
		fs.err = errBoom
		w := NewWatcher(&fakeSource{stream: fs}, notify.NewRegistry(notify.Options{}), nil)
		if err := w.Serve(context.Background()); !errors.Is(err, errBoom) {
			t.Errorf("Serve = %v, want %v", err, errBoom)
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		t.Parallel()
		fs := newFakeStream(t)
		fs.block = true
		w := NewWatcher(&fakeSource{stream: fs}, notify.NewRegistry(notify.Options{}), nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Serve(ctx) }()
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after cancel")
		}
	})
}

func TestWatcher_ResumesAfterLastEvent(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("cursor killed")
	first := newFakeStream(t,
		insertEventAt("t1", bson.D{{Key: "DriverId", Value: "D1"}}),
		insertEventAt("t2", bson.D{{Key: "DriverId", Value: "D1"}}),
	)
	first.err = errBoom
	second := newFakeStream(t)

	src := &fakeSource{opens: []fakeOpen{{stream: first}, {stream: second}}}
	w := NewWatcher(src, notify.NewRegistry(notify.Options{}), nil)

	if err := w.Serve(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("first Serve = %v, want %v", err, errBoom)
	}
	if err := w.Serve(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("second Serve = %v, want ErrStreamClosed", err)
	}

	if len(src.resumes) != 2 {
		t.Fatalf("opens = %d, want 2", len(src.resumes))
	}
	if src.resumes[0] != nil {
		t.Errorf("first open resumed after %v", src.resumes[0])
	}
	if want := resumeToken(t, "t2"); !bytes.Equal(src.resumes[1], want) {
		t.Errorf("second open resumed after %v, want %v", src.resumes[1], want)
	}
}

func TestWatcher_DropsTokenWhenResumeFails(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("resume point lost")
	first := newFakeStream(t, insertEventAt("t1", bson.D{{Key: "DriverId", Value: "D1"}}))

	src := &fakeSource{opens: []fakeOpen{{stream: first}, {err: errBoom}}, stream: newFakeStream(t)}
	w := NewWatcher(src, notify.NewRegistry(notify.Options{}), nil)

	_ = w.Serve(context.Background())
	if err := w.Serve(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("resume Serve = %v, want %v", err, errBoom)
	}
	_ = w.Serve(context.Background())

	if len(src.resumes) != 3 {
		t.Fatalf("opens = %d, want 3", len(src.resumes))
	}
	if len(src.resumes[1]) == 0 {
		t.Error("second open should resume")
	}
	if src.resumes[2] != nil {
		t.Errorf("third open resumed after %v, want a fresh stream", src.resumes[2])
	}
}

func TestDriverID(t *testing.T) {
	t.Parallel()

	oid := primitive.NewObjectID()
	tests := []struct {
		name string
		doc  models.Document
		want string
		ok   bool
	}{
		{"string", models.Document{"DriverId": "D1"}, "D1", true},
		{"empty string", models.Document{"DriverId": ""}, "", false},
		{"object id", models.Document{"DriverId": oid}, oid.Hex(), true},
		{"int32", models.Document{"DriverId": int32(12)}, "12", true},
		{"int64", models.Document{"DriverId": int64(1234567890123)}, "1234567890123", true},
		{"missing", models.Document{"severity": "minor"}, "", false},
		{"unsupported", models.Document{"DriverId": 1.5}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DriverID(tt.doc)
			if got != tt.want || ok != tt.ok {
				t.Errorf("DriverID = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestWatcher_String(t *testing.T) {
	t.Parallel()
	if got := NewWatcher(nil, nil, nil).String(); got != "alerts-watcher" {
		t.Errorf("String = %q", got)
	}
}
