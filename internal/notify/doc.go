// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package notify implements the notification registry behind /sse/{subscriberId}
and /ws/{subscriberId}.

A Registry maps an opaque subscriber identifier (usually a driver id) to the
ordered list of streams opened for it. One identifier may have several
streams at once, for example two browser tabs following the same driver.

	reg := notify.NewRegistry(notify.Options{BufferSize: 64, PruneEmpty: true})

	stream, err := reg.Subscribe("D1")
	defer reg.Unsubscribe("D1", stream)

	n, err := reg.Publish("D1", map[string]string{"type": "alert"})

Publish never blocks: each stream has a bounded queue and a stream that
cannot accept a frame is removed. Streams are removed by identity, so
unsubscribing one connection never affects another connection of the same
subscriber.

# Transports

ServeSSE writes every frame as a "data: <json>" event followed by a blank
line and flushes it. ServeWebSocket writes every frame as a text message.
Both return when the request context ends or the stream is closed; callers
unsubscribe the stream afterwards.

# Lifecycle

The registry is owned by the supervisor tree through Serve, which closes
every stream on shutdown so that long-lived responses end promptly.
*/
package notify
