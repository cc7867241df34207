// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

// EventKind identifies a session lifecycle transition.
type EventKind int

// The lifecycle transitions reported on the session event channel.
const (
	// EventConnected is emitted every time negotiation reaches the ready
	// state, including after a successful reconnect.
	EventConnected EventKind = 1 + iota

	// EventDisconnected is emitted when an established session is lost. Err
	// carries the cause, or nil for a clean close by the remote side.
	EventDisconnected

	// EventReconnecting is emitted before each reconnection attempt; Attempt
	// counts from 1 within the current disconnect.
	EventReconnecting

	// EventFailed is emitted when the session becomes permanently unusable:
	// either no reconnection policy is configured or its attempts are
	// exhausted.
	EventFailed
)

// String returns the name of the lifecycle transition.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// An Event describes a session lifecycle transition.
type Event struct {
	Kind    EventKind
	Attempt int
	Err     error
}

// emit delivers an event without ever blocking the engine: if the consumer
// is not keeping up the oldest buffered event is dropped.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// Events returns the channel on which session lifecycle transitions are
// delivered. The channel is buffered; if the consumer lags, older events are
// dropped in favor of newer ones.
func (s *Session) Events() <-chan Event {
	return s.events
}
