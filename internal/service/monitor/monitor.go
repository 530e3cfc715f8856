package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/notify"
	"github.com/oshokin/door-monitor/internal/repository/entity"
	"github.com/oshokin/door-monitor/internal/workflow"
)

const (
	// OrchestratorName is the registered name of the monitoring orchestration.
	OrchestratorName = "DoorMonitor"
	// ActivityName is the registered name of the notification activity.
	ActivityName = "SendTextMessage"

	// ReasonDoorClosed ends the orchestration when the sensor reads closed.
	ReasonDoorClosed = "door_closed"
	// ReasonRetriesExhausted ends the orchestration when the retry budget is spent.
	ReasonRetriesExhausted = "retries_exhausted"
)

// Phase is a state of the monitoring state machine.
type Phase string

// Phases of the monitoring loop.
const (
	PhaseWaitingTimer  Phase = "WAITING_TIMER"
	PhaseCheckingState Phase = "CHECKING_STATE"
	PhaseNotifying     Phase = "NOTIFYING"
	PhaseDone          Phase = "DONE"
)

// Input is the orchestration input.
type Input struct {
	// Delay is the wait before each check.
	Delay time.Duration `json:"delay"`
	// MaxRetries bounds the checks after the first one.
	MaxRetries int `json:"max_retries"`
}

// Output is the orchestration result.
type Output struct {
	// Reason is ReasonDoorClosed or ReasonRetriesExhausted.
	Reason string `json:"reason"`
	// RetryCount is the number of completed iterations.
	RetryCount int `json:"retry_count"`
	// Notifications is the number of notification attempts.
	Notifications int `json:"notifications"`
	// Failures is the number of iterations that failed before deciding.
	Failures int `json:"failures,omitempty"`
}

// Sender sends one notification.
type Sender interface {
	Send(ctx context.Context) notify.Result
}

// Monitor owns the orchestration and activity of one sensor.
type Monitor struct {
	// sensor is the entity holding the door state.
	sensor door.EntityID
	// sender delivers the reminders.
	sender Sender
}

// New creates a monitor of the sensor entity.
func New(sensor door.EntityID, sender Sender) *Monitor {
	return &Monitor{
		sensor: sensor,
		sender: sender,
	}
}

// Register installs the orchestration and its activity on the engine.
func (m *Monitor) Register(engine *workflow.Engine) {
	engine.RegisterOrchestrator(OrchestratorName, m.Orchestrate)
	engine.RegisterActivity(ActivityName, m.SendTextMessage)
}

// NewInput builds the orchestration input from the monitor settings.
func NewInput(settings config.Monitor) Input {
	return Input{
		Delay:      settings.TimerDelay,
		MaxRetries: settings.MaxRetries,
	}
}

// SendTextMessage is the notification activity. It never fails; the send
// outcome is carried in the returned notify.Result.
func (m *Monitor) SendTextMessage(ctx context.Context, _ json.RawMessage) (any, error) {
	return m.sender.Send(ctx), nil
}

// loop is the mutable state of one orchestration run.
type loop struct {
	input  Input
	output Output
}

// Orchestrate runs the monitoring state machine. Every iteration is bounded
// by the retry budget, so at most MaxRetries+1 notifications are sent.
func (m *Monitor) Orchestrate(ctx *workflow.Context) (any, error) {
	var input Input
	if err := ctx.Input(&input); err != nil {
		return nil, err
	}

	if input.Delay <= 0 {
		input.Delay = config.DefaultTimerDelay
	}

	if input.MaxRetries < 0 {
		input.MaxRetries = 0
	}

	l := &loop{input: input}

	for phase := PhaseWaitingTimer; phase != PhaseDone; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := m.advance(ctx, phase, l)
		if err != nil {
			return nil, err
		}

		phase = next
	}

	logger.InfoKV(ctx.ReplaySafe(), "Door monitoring finished",
		"reason", l.output.Reason,
		"retry_count", l.output.RetryCount,
		"notifications", l.output.Notifications,
	)

	return l.output, nil
}

// advance performs one phase and returns the next one. Only errors that stop
// the orchestration (termination, shutdown, broken history) are returned.
func (m *Monitor) advance(ctx *workflow.Context, phase Phase, l *loop) (Phase, error) {
	switch phase {
	case PhaseWaitingTimer:
		if err := ctx.CreateTimer(ctx.CurrentTime().Add(l.input.Delay)); err != nil {
			return PhaseDone, err
		}

		return PhaseCheckingState, nil

	case PhaseCheckingState:
		closed, err := m.isClosed(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return PhaseDone, ctx.Err()
			}

			if errors.Is(err, entity.ErrLockingViolation) {
				logger.WarnKV(ctx.ReplaySafe(), "Sensor is locked by this orchestration, assuming the door is still open",
					"retry_count", l.output.RetryCount, "error", err)
			} else {
				logger.ErrorKV(ctx.ReplaySafe(), "Failed to check the door state",
					"retry_count", l.output.RetryCount, "error", err)
			}

			l.output.Failures++

			return l.next(), nil
		}

		if closed {
			l.output.Reason = ReasonDoorClosed

			return PhaseDone, nil
		}

		return PhaseNotifying, nil

	case PhaseNotifying:
		var result notify.Result

		err := ctx.CallActivity(ActivityName, nil, &result)
		if ctx.Err() != nil {
			return PhaseDone, ctx.Err()
		}

		l.output.Notifications++

		if err != nil {
			logger.ErrorKV(ctx.ReplaySafe(), "Notification activity failed", "error", err)
		} else if !result.Sent {
			logger.WarnKV(ctx.ReplaySafe(), "Reminder was not delivered", "error", result.Error)
		}

		return l.next(), nil

	default:
		return PhaseDone, nil
	}
}

// next counts a finished iteration and decides whether to wait again.
func (l *loop) next() Phase {
	l.output.RetryCount++

	if l.output.RetryCount > l.input.MaxRetries {
		l.output.Reason = ReasonRetriesExhausted

		return PhaseDone
	}

	return PhaseWaitingTimer
}

// isClosed reads the sensor under its lock. The lock is released before
// any notification is sent.
func (m *Monitor) isClosed(ctx *workflow.Context) (bool, error) {
	var closed bool

	err := ctx.WithLock(m.sensor, func(sec workflow.EntitySection) error {
		value, err := sec.Read()
		if err != nil {
			return err
		}

		closed = door.State(value).IsClosed()

		return nil
	})

	return closed, err
}
