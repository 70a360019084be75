// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
)

// ErrRegistryClosed is returned by Subscribe once the registry has been closed.
var ErrRegistryClosed = errors.New("notification registry closed")

// DefaultBufferSize is the per-stream queue length used when Options.BufferSize is unset.
const DefaultBufferSize = 64

// Drop reasons reported in notify_streams_dropped_total.
const (
	dropReasonFull        = "full"
	dropReasonWriteFailed = "write_failed"
)

// Options configures a Registry.
type Options struct {
	// BufferSize is the number of frames a stream may hold before a
	// Publish treats it as failed and removes it.
	BufferSize int

	// PruneEmpty removes an identifier from the registry when its last
	// stream goes away. When false the identifier is kept with an empty list.
	PruneEmpty bool

	// Metrics receives stream and publish counters. Optional.
	Metrics *metrics.Registry
}

// Registry maps subscriber identifiers to their open streams, kept in
// registration order. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	streams map[string][]*Stream
	closed  bool

	bufferSize int
	pruneEmpty bool
	metrics    *metrics.Registry
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Registry{
		streams:    make(map[string][]*Stream),
		bufferSize: opts.BufferSize,
		pruneEmpty: opts.PruneEmpty,
		metrics:    opts.Metrics,
	}
}

// Subscribe opens a new stream for id and appends it after the streams
// already registered for the same identifier.
func (r *Registry) Subscribe(id string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	s := newStream(id, r.bufferSize)
	r.streams[id] = append(r.streams[id], s)

	if r.metrics != nil {
		r.metrics.TrackActiveStream(true)
	}
	logging.Debug().
		Str("subscriber_id", id).
		Uint64("stream_id", s.id).
		Int("streams", len(r.streams[id])).
		Msg("stream subscribed")

	return s, nil
}

// Unsubscribe removes s from id's streams and closes it. It reports false
// when s is not registered under id, which includes a second call for the
// same stream.
func (r *Registry) Unsubscribe(id string, s *Stream) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.streams[id]
	if !ok {
		return false
	}
	for i, candidate := range list {
		if candidate == s {
			r.removeLocked(id, i)
			logging.Debug().
				Str("subscriber_id", id).
				Uint64("stream_id", s.id).
				Msg("stream unsubscribed")
			return true
		}
	}
	return false
}

// Publish serializes msg once and queues the frame on every stream of id in
// registration order. Streams that cannot take the frame, because their
// queue is full or their transport already failed, are removed and not
// counted. It returns the number of streams the frame was queued on; an id
// with no streams yields 0 and no error.
func (r *Registry) Publish(id string, msg any) (int, error) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode notification for %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.streams[id]
	if len(list) == 0 {
		if r.metrics != nil {
			r.metrics.RecordPublish(0)
		}
		return 0, nil
	}

	kept := list[:0]
	delivered := 0
	for _, s := range list {
		reason := ""
		if s.failed.Load() {
			reason = dropReasonWriteFailed
		} else {
			select {
			case s.frames <- frame:
				delivered++
			default:
				reason = dropReasonFull
			}
		}

		if reason == "" {
			kept = append(kept, s)
			continue
		}

		s.close()
		if r.metrics != nil {
			r.metrics.TrackActiveStream(false)
			r.metrics.RecordStreamDropped(reason)
		}
		logging.Info().
			Str("subscriber_id", id).
			Uint64("stream_id", s.id).
			Str("reason", reason).
			Msg("dropped notification stream")
	}

	// Clear the tail so dropped streams can be collected.
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	r.setLocked(id, kept)

	if r.metrics != nil {
		r.metrics.RecordPublish(delivered)
	}
	return delivered, nil
}

// Count returns the number of open streams for id.
func (r *Registry) Count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams[id])
}

// Has reports whether id has an entry, including an empty one retained
// when PruneEmpty is false.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	return ok
}

// Identifiers returns the known subscriber identifiers in sorted order.
func (r *Registry) Identifiers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Total returns the number of open streams across all identifiers.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, list := range r.streams {
		total += len(list)
	}
	return total
}

// Close closes every stream and rejects later subscriptions. It is safe to
// call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	closedStreams := 0
	for id, list := range r.streams {
		for _, s := range list {
			s.close()
			closedStreams++
		}
		delete(r.streams, id)
	}
	if r.metrics != nil {
		r.metrics.NotifyActiveStreams.Sub(float64(closedStreams))
	}

	logging.Info().
		Str("component", "notify-registry").
		Int("streams_closed", closedStreams).
		Msg("notification registry stopped")
}

// Serve blocks until ctx is canceled and then closes the registry, which
// ends every open SSE and WebSocket response.
func (r *Registry) Serve(ctx context.Context) error {
	<-ctx.Done()
	r.Close()
	return ctx.Err()
}

// String identifies the registry in supervisor logs.
func (r *Registry) String() string {
	return "notify-registry"
}

// removeLocked drops the stream at index i of id's list (must be called with mu held).
func (r *Registry) removeLocked(id string, i int) {
	list := r.streams[id]
	s := list[i]

	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	r.setLocked(id, list[:len(list)-1])

	s.close()
	if r.metrics != nil {
		r.metrics.TrackActiveStream(false)
	}
}

// setLocked stores list for id, pruning the entry when empty and configured to.
func (r *Registry) setLocked(id string, list []*Stream) {
	if len(list) == 0 && r.pruneEmpty {
		delete(r.streams, id)
		return
	}
	r.streams[id] = list
}
