package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNondeterminism is returned when replayed code asks for a different
	// step than the one recorded at the same position.
	ErrNondeterminism = errors.New("orchestration is not deterministic")
	// ErrInstanceNotFound is returned for an unknown instance id.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInstanceNotRunning is returned when terminating a finished instance.
	ErrInstanceNotRunning = errors.New("instance is not running")
	// ErrUnknownOrchestrator is returned when starting an unregistered orchestrator.
	ErrUnknownOrchestrator = errors.New("unknown orchestrator")
	// ErrUnknownActivity is returned when calling an unregistered activity.
	ErrUnknownActivity = errors.New("unknown activity")
	// ErrEntityRead is returned by EntitySection.Read when the recorded read failed.
	ErrEntityRead = errors.New("entity read failed")
	// ErrEngineClosed is returned when starting instances on a closed engine.
	ErrEngineClosed = errors.New("workflow engine is closed")

	// errTerminated is the cancellation cause of a terminated instance.
	errTerminated = errors.New("instance terminated")
	// errEngineStopped is the cancellation cause of a suspended instance.
	errEngineStopped = errors.New("workflow engine stopped")
)

// ActivityError is returned by Context.CallActivity when the activity failed.
// It is recorded, so a replay returns the same error.
type ActivityError struct {
	// Name is the activity name.
	Name string
	// Message is the recorded error text.
	Message string
}

// Error implements the error interface.
func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Name, e.Message)
}
