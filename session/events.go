package session

import (
	"time"

	"github.com/isdmx/runbox/stream"
)

// State is a session's lifecycle position.
type State int

const (
	StateStarting State = iota
	StateActive
	StateCrashed
	StateIdle
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateCrashed:
		return "crashed"
	case StateIdle:
		return "idle-timeout"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventType discriminates manager events.
type EventType int

const (
	// EventOutput carries one transcoded output chunk.
	EventOutput EventType = iota
	// EventClosed reports that a session ended; Reason explains why.
	EventClosed
)

// Event is one item on the manager's output stream. Output events for a
// session are delivered in production order.
type Event struct {
	SessionID string
	Type      EventType
	Data      []byte
	Reason    string
}

// Info is a point-in-time snapshot of one session.
type Info struct {
	ID           string
	Language     string
	SandboxID    string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	Stats        stream.Stats
}
