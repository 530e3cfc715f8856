package history

import (
	"context"
	"errors"

	"github.com/oshokin/door-monitor/internal/domain/workflow"
)

// ErrNotFound is returned when an instance does not exist.
var ErrNotFound = errors.New("instance not found")

// Store defines persistence operations for workflow instances.
type Store interface {
	// CreateInstance inserts a new instance.
	CreateInstance(ctx context.Context, instance *workflow.Instance) error
	// GetInstance returns one instance including its history length.
	GetInstance(ctx context.Context, id string) (*workflow.Instance, error)
	// ListInstances returns instances with the given status, oldest first.
	ListInstances(ctx context.Context, status workflow.Status) ([]*workflow.Instance, error)
	// Finish moves a Running instance to a terminal status. It reports false
	// when the instance was no longer Running.
	Finish(ctx context.Context, id string, status workflow.Status, output []byte, reason string) (bool, error)
	// AppendStep records one step. Appending an existing seq is a no-op.
	AppendStep(ctx context.Context, step *workflow.Step) error
	// LoadSteps returns the history ordered by seq.
	LoadSteps(ctx context.Context, id string) ([]workflow.Step, error)
}
