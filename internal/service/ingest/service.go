package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/metrics"
	"github.com/oshokin/door-monitor/internal/repository/entity"
	"github.com/oshokin/door-monitor/internal/service/monitor"
	"github.com/oshokin/door-monitor/internal/workflow"
)

const (
	// SupersededReason is recorded on an instance replaced by a newer one.
	SupersededReason = "superseded"
	// AbandonedReason is recorded on an instance whose door state could not be stored.
	AbandonedReason = "state not stored"
)

// ErrInvalidState is returned for a report without a usable state.
var ErrInvalidState = errors.New("invalid door state")

// Outcome is what a report caused.
type Outcome string

const (
	// OutcomeAlreadySet means the entity already held the reported state.
	OutcomeAlreadySet Outcome = "already_set"
	// OutcomeClosed means the entity was signalled closed; nothing was started.
	OutcomeClosed Outcome = "closed"
	// OutcomeStarted means the entity was signalled and a monitoring instance started.
	OutcomeStarted Outcome = "started"
)

// Response describes the effect of one report.
type Response struct {
	// Outcome is the decision taken.
	Outcome Outcome
	// State is the normalised reported state.
	State door.State
	// InstanceID is the started instance, set for OutcomeStarted.
	InstanceID string
	// Superseded is the instance terminated in favour of the new one, if any.
	Superseded string
}

// Engine is the part of the workflow engine used by the service.
type Engine interface {
	Start(ctx context.Context, name string, input any) (string, error)
	Status(ctx context.Context, id string) (*wf.Instance, error)
	Terminate(ctx context.Context, id, reason string) error
}

// Service handles state reports of one sensor.
type Service struct {
	// entities holds the sensor state and the last instance pointer.
	entities entity.Store
	// engine starts and inspects monitoring instances.
	engine Engine
	// sensor is the monitored entity.
	sensor door.EntityID
	// input is passed to every started instance.
	input monitor.Input

	// mu serializes reports of the sensor.
	mu sync.Mutex
}

// NewService creates the ingestion service.
func NewService(entities entity.Store, engine Engine, sensor door.EntityID, input monitor.Input) *Service {
	return &Service{
		entities: entities,
		engine:   engine,
		sensor:   sensor,
		input:    input,
	}
}

// ReportState applies a state report. Reports are handled one at a time and
// return only after the new state is committed, so a report following an
// acknowledged one always sees its state. The read itself does not take the
// entity lock, so it may still lag behind a concurrent orchestration section.
func (s *Service) ReportState(ctx context.Context, raw string, actor *door.Actor) (*Response, error) {
	state, err := door.ParseState(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	ctx = logger.WithFields(ctx, map[string]any{
		"state": state.String(),
		"actor": actor.String(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	// Signals of an earlier report that timed out are applied before deciding.
	if err = s.entities.Settle(ctx, s.sensor); err != nil {
		return nil, fmt.Errorf("settle %s: %w", s.sensor, err)
	}

	current, _, err := s.entities.Read(ctx, s.sensor)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.sensor, err)
	}

	if current == string(state) {
		logger.Info(ctx, "Door state is already set")
		metrics.RecordStateReport(state.String(), string(OutcomeAlreadySet))

		return &Response{Outcome: OutcomeAlreadySet, State: state}, nil
	}

	if state.IsClosed() {
		if err = s.signal(ctx, state); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Door closed", "previous", current)
		metrics.RecordStateReport(state.String(), string(OutcomeClosed))

		return &Response{Outcome: OutcomeClosed, State: state}, nil
	}

	// The instance starts before the state changes: if it cannot start, the
	// report fails and a retry is not answered with "already set".
	superseded, err := s.supersede(ctx)
	if err != nil {
		return nil, err
	}

	id, err := s.engine.Start(ctx, monitor.OrchestratorName, s.input)
	if err != nil {
		return nil, fmt.Errorf("start monitoring: %w", err)
	}

	if err = s.signal(ctx, state); err != nil {
		if errors.Is(err, entity.ErrClosed) {
			s.abandon(ctx, id)
		}

		return nil, err
	}

	if err = s.entities.Update(ctx, s.sensor.InstancePointer(), id); err != nil {
		logger.ErrorKV(ctx, "Failed to remember the monitoring instance", "instance_id", id, "error", err)
	}

	logger.InfoKV(ctx, "Door opened, monitoring started", "previous", current, "instance_id", id)
	metrics.RecordStateReport(state.String(), string(OutcomeStarted))

	return &Response{
		Outcome:    OutcomeStarted,
		State:      state,
		InstanceID: id,
		Superseded: superseded,
	}, nil
}

// signal queues the new sensor state and waits until it is committed. A
// queued signal that is still pending when ctx ends is applied later.
func (s *Service) signal(ctx context.Context, state door.State) error {
	if err := s.entities.Signal(ctx, s.sensor, string(state)); err != nil {
		return fmt.Errorf("signal %s: %w", s.sensor, err)
	}

	if err := s.entities.Settle(ctx, s.sensor); err != nil {
		return fmt.Errorf("settle %s: %w", s.sensor, err)
	}

	return nil
}

// abandon terminates an instance whose state change was rejected.
func (s *Service) abandon(ctx context.Context, id string) {
	if err := s.engine.Terminate(ctx, id, AbandonedReason); err != nil {
		logger.ErrorKV(ctx, "Failed to terminate abandoned monitoring instance", "instance_id", id, "error", err)
	}
}

// Status returns a monitoring instance.
func (s *Service) Status(ctx context.Context, id string) (*wf.Instance, error) {
	return s.engine.Status(ctx, id)
}

// Terminate stops a monitoring instance.
func (s *Service) Terminate(ctx context.Context, id, reason string) error {
	return s.engine.Terminate(ctx, id, reason)
}

// supersede terminates the last started instance if it is still running,
// keeping at most one live instance per sensor.
func (s *Service) supersede(ctx context.Context) (string, error) {
	previous, ok, err := s.entities.Read(ctx, s.sensor.InstancePointer())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.sensor.InstancePointer(), err)
	}

	if !ok || previous == "" {
		return "", nil
	}

	instance, err := s.engine.Status(ctx, previous)
	if errors.Is(err, workflow.ErrInstanceNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("inspect instance %s: %w", previous, err)
	}

	if instance.Status != wf.StatusRunning {
		return "", nil
	}

	err = s.engine.Terminate(ctx, previous, SupersededReason)
	if errors.Is(err, workflow.ErrInstanceNotRunning) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("terminate instance %s: %w", previous, err)
	}

	logger.InfoKV(ctx, "Terminated superseded monitoring instance", "instance_id", previous)

	return previous, nil
}
