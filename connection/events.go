package connection

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned when registering a handler for an unknown event.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a lifecycle event of the Manager.
type Event string

const (
	// EventClose is emitted whenever the connection reports closure, payload is the close reason or nil.
	EventClose Event = "close"
	// EventReconnect is emitted once a lost connection is re-established and restored, payload is nil.
	EventReconnect Event = "reconnect"
	// EventError is emitted on every transport fault, before the close it causes.
	EventError Event = "error"
)

// Handler handles lifecycle event payload.
type Handler func(err error)

// Events returns all known events.
func Events() []Event {
	return []Event{EventClose, EventReconnect, EventError}
}

// ParseEvent converts event name to Event.
func ParseEvent(name string) (Event, error) {
	ev := Event(name)
	if !ev.valid() {
		return "", fmt.Errorf("parse %q: %w", name, ErrInvalidEvent)
	}

	return ev, nil
}

func (e Event) valid() bool {
	switch e {
	case EventClose, EventReconnect, EventError:
		return true
	default:
		return false
	}
}
