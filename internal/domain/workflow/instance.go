package workflow

import (
	"encoding/json"
	"time"
)

// Status is the runtime status of an orchestration instance.
type Status string

const (
	// StatusRunning marks an instance that has not reached a terminal state.
	StatusRunning Status = "Running"
	// StatusCompleted marks an instance whose orchestrator returned normally.
	StatusCompleted Status = "Completed"
	// StatusFailed marks an instance whose orchestrator returned an error.
	StatusFailed Status = "Failed"
	// StatusTerminated marks an instance stopped by an operator.
	StatusTerminated Status = "Terminated"
)

// IsTerminal reports whether no further progress will be made.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// Instance is a persisted orchestration instance.
type Instance struct {
	// ID is the unique instance id generated at start.
	ID string
	// Name is the registered orchestrator name.
	Name string
	// Input is the JSON-encoded orchestrator input.
	Input json.RawMessage
	// Output is the JSON-encoded orchestrator result once completed.
	Output json.RawMessage
	// Status is the runtime status.
	Status Status
	// Error holds the failure or termination reason.
	Error string
	// CreatedAt is when the instance was started.
	CreatedAt time.Time
	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time
	// HistoryLength is the number of recorded steps.
	HistoryLength int
}

// Clone returns a copy that does not share byte slices with the receiver.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.Input = append(json.RawMessage(nil), i.Input...)
	cloned.Output = append(json.RawMessage(nil), i.Output...)

	return &cloned
}
