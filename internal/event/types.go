// Package event provides the typed event stream between task executors and
// stream subscribers. Each task has at most one bounded queue with exactly one
// subscriber; publishing applies backpressure when the queue is full.
package event

import "time"

// Type identifies the kind of event on a task's stream.
type Type string

const (
	TypeMessage    Type = "message"
	TypeToolUse    Type = "tool_use"
	TypeToolResult Type = "tool_result"
	TypeProgress   Type = "progress"
	TypeComplete   Type = "complete"
	TypeError      Type = "error"
)

// Event is a single record on a task's stream. Data holds the type-specific
// payload: a message body, tool invocation, progress snapshot, or final result.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// New creates an event stamped with the current UTC time.
func New(t Type, data any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// IsTerminal reports whether the event ends a task's stream.
func (e Event) IsTerminal() bool {
	return e.Type == TypeComplete
}
