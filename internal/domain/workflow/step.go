package workflow

import (
	"encoding/json"
	"time"
)

// StepKind identifies what a recorded step stands for.
type StepKind string

const (
	// StepTimerCreated records a durable timer and its fire time.
	StepTimerCreated StepKind = "timer_created"
	// StepTimerFired records that a durable timer elapsed.
	StepTimerFired StepKind = "timer_fired"
	// StepActivityCompleted records an activity result or error.
	StepActivityCompleted StepKind = "activity_completed"
	// StepEntityRead records a value read from an entity under its lock.
	StepEntityRead StepKind = "entity_read"
)

// Step is one entry of an instance history.
type Step struct {
	// InstanceID is the owning instance.
	InstanceID string
	// Seq is the zero-based position of the step in the history.
	Seq int
	// Kind is the step type.
	Kind StepKind
	// Name is the activity name or entity key, empty for timers.
	Name string
	// Payload is the JSON-encoded recorded result.
	Payload json.RawMessage
	// Error is the recorded failure, if any.
	Error string
	// RecordedAt is when the step was appended.
	RecordedAt time.Time
}
