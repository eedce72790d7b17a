package api

import "time"

// EventType identifies a workflow history event.
type EventType string

const (
	EventInstanceStarted      EventType = "instance.started"
	EventInstanceTransitioned EventType = "instance.transitioned"
	EventInstanceExpired      EventType = "instance.expired"
	EventVersionConflict      EventType = "instance.version_conflict"
)

// WorkflowEvent is a minimal append-only history record for audit/debugging.
// Keep Detail small: never dump whole payloads here.
type WorkflowEvent struct {
	InstanceID   string
	At           time.Time
	Type         EventType
	WorkflowType WorkflowType

	FromState State
	ToState   State
	Version   int64
	Actor     string

	Detail string
}
