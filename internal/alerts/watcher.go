// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package alerts turns accident insertions into notifications for the
// involved driver's open streams.
//
// The Watcher follows a MongoDB change stream on the accidents collection and
// publishes {"type":"accident","data":<document>} under the document's
// DriverId. It runs as a suture service: any stream error ends Serve and the
// supervisor reopens the stream with backoff, resuming after the last event
// seen so insertions made during the restart are still delivered.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/models"
	"github.com/tomtom215/drivepulse/internal/store"
)

// Event outcomes recorded in alerts_events_processed_total.
const (
	OutcomePublished     = "published"
	OutcomeNoSubscribers = "no_subscribers"
	OutcomeSkipped       = "skipped"
	OutcomeDecodeError   = "decode_error"
	OutcomePublishError  = "publish_error"
)

// ErrStreamClosed is returned when the change stream ends without an error.
var ErrStreamClosed = errors.New("alerts: change stream closed")

// Source opens accident change streams.
type Source interface {
	WatchAccidents(ctx context.Context, resumeAfter bson.Raw) (store.ChangeStream, error)
}

// Publisher delivers a notification to an identifier's streams.
type Publisher interface {
	Publish(id string, msg any) (int, error)
}

// Watcher publishes inserted accidents to the registry.
type Watcher struct {
	source    Source
	publisher Publisher
	metrics   *metrics.Registry

	// resumeToken is only touched by Serve; suture never runs it concurrently.
	resumeToken bson.Raw
}

// NewWatcher creates a watcher. reg may be nil.
func NewWatcher(source Source, publisher Publisher, reg *metrics.Registry) *Watcher {
	return &Watcher{
		source:    source,
		publisher: publisher,
		metrics:   reg,
	}
}

// Serve implements suture.Service.
func (w *Watcher) Serve(ctx context.Context) error {
	cs, err := w.source.WatchAccidents(ctx, w.resumeToken)
	if err != nil {
		if len(w.resumeToken) > 0 && ctx.Err() == nil {
			// The token may have aged out of the oplog; start fresh next time.
			logging.Warn().Err(err).Msg("Failed to resume accident stream, restarting from now")
			w.resumeToken = nil
		}
		return fmt.Errorf("open accident stream: %w", err)
	}
	defer func() {
		if err := cs.Close(context.Background()); err != nil {
			logging.Debug().Err(err).Msg("Failed to close accident change stream")
		}
	}()

	logging.Info().Msg("Watching accident insertions")

	for cs.Next(ctx) {
		if token := cs.ResumeToken(); len(token) > 0 {
			w.resumeToken = append(bson.Raw(nil), token...)
		}

		var ev store.AccidentEvent
		if err := cs.Decode(&ev); err != nil {
			w.record(OutcomeDecodeError)
			logging.Warn().Err(err).Msg("Failed to decode accident change event")
			continue
		}
		w.handle(ev)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := cs.Err(); err != nil {
		return fmt.Errorf("accident stream: %w", err)
	}
	return ErrStreamClosed
}

// String implements fmt.Stringer for suture logging.
func (w *Watcher) String() string {
	return "alerts-watcher"
}

func (w *Watcher) handle(ev store.AccidentEvent) {
	driverID, ok := DriverID(ev.FullDocument)
	if !ok {
		w.record(OutcomeSkipped)
		logging.Debug().Interface("accident_id", ev.FullDocument["_id"]).Msg("Accident without DriverId skipped")
		return
	}

	n, err := w.publisher.Publish(driverID, models.Notification{
		Type: models.NotificationAccident,
		Data: store.NormalizeDocument(ev.FullDocument),
	})
	if err != nil {
		w.record(OutcomePublishError)
		logging.Warn().Err(err).Str("subscriber_id", driverID).Msg("Failed to publish accident")
		return
	}
	if n == 0 {
		w.record(OutcomeNoSubscribers)
		return
	}

	w.record(OutcomePublished)
	logging.Debug().Str("subscriber_id", driverID).Int("streams", n).Msg("Accident published")
}

func (w *Watcher) record(outcome string) {
	if w.metrics != nil {
		w.metrics.RecordAlertEvent(outcome)
	}
}

// DriverID extracts the subscriber identifier from an accident document.
// Strings are used as is, ObjectIDs as hex and integers in base 10.
func DriverID(doc models.Document) (string, bool) {
	switch v := doc[models.FieldDriverID].(type) {
	case string:
		return v, v != ""
	case primitive.ObjectID:
		return v.Hex(), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
