// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"sync"
	"sync/atomic"
)

// streamIDCounter hands out process-unique, monotonically increasing stream ids.
var streamIDCounter atomic.Uint64

// Stream is one open connection registered under a subscriber identifier.
// The registry writes serialized frames into it; a transport (SSE or
// WebSocket) drains Frames until it is closed.
type Stream struct {
	id         uint64
	subscriber string
	frames     chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	failed     atomic.Bool
}

func newStream(subscriber string, bufferSize int) *Stream {
	return &Stream{
		id:         streamIDCounter.Add(1),
		subscriber: subscriber,
		frames:     make(chan []byte, bufferSize),
		done:       make(chan struct{}),
	}
}

// ID returns the stream's process-unique id.
func (s *Stream) ID() uint64 {
	return s.id
}

// Subscriber returns the identifier the stream was registered under.
func (s *Stream) Subscriber() string {
	return s.subscriber
}

// Frames returns the queue of serialized messages. It is closed when the
// stream is removed from the registry; frames queued before that are still
// delivered.
func (s *Stream) Frames() <-chan []byte {
	return s.frames
}

// Done is closed when the stream is removed from the registry.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Fail marks the transport as broken. The next Publish to the stream's
// identifier removes it.
func (s *Stream) Fail() {
	s.failed.Store(true)
}

// close is only called with the registry mutex held, after the stream has
// been taken out of its list, so no Publish can send on the closed channel.
func (s *Stream) close() {
	s.closeOnce.Do(func() {
		close(s.frames)
		close(s.done)
	})
}
