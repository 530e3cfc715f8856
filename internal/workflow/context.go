package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/repository/entity"
)

// Context is handed to an orchestrator. It is not safe for concurrent use:
// an orchestrator runs on a single goroutine.
type Context struct {
	// ctx is the instance context, canceled on termination or shutdown.
	ctx context.Context
	// engine owns the instance.
	engine *Engine
	// instance is the persisted instance being executed.
	instance *wf.Instance
	// history holds the recorded steps, replayed ones first.
	history []wf.Step
	// next is the position of the next step.
	next int
	// now is the deterministic orchestration time.
	now time.Time
	// locked holds the entities locked by this orchestration.
	locked map[door.EntityID]struct{}
	// fatal stops the orchestration once set.
	fatal error
}

// EntitySection is the locked view of an entity inside Context.WithLock.
type EntitySection interface {
	// Read returns the entity value, recorded for replay. A missing entity reads as "".
	Read() (string, error)
}

func newContext(ctx context.Context, engine *Engine, instance *wf.Instance, steps []wf.Step) *Context {
	return &Context{
		ctx:      ctx,
		engine:   engine,
		instance: instance,
		history:  steps,
		now:      instance.CreatedAt,
		locked:   make(map[door.EntityID]struct{}),
	}
}

// InstanceID returns the id of the running instance.
func (c *Context) InstanceID() string {
	return c.instance.ID
}

// Input decodes the instance input into v.
func (c *Context) Input(v any) error {
	if len(c.instance.Input) == 0 {
		return nil
	}

	if err := json.Unmarshal(c.instance.Input, v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	return nil
}

// IsReplaying reports whether the next step comes from the recorded history.
func (c *Context) IsReplaying() bool {
	return c.next < len(c.history)
}

// CurrentTime returns the deterministic orchestration time: the recording time
// of the last step reached, or the instance creation time before any step.
func (c *Context) CurrentTime() time.Time {
	return c.now
}

// ReplaySafe returns a context whose logger stays silent while replaying, so
// resumed instances do not repeat their log lines.
func (c *Context) ReplaySafe() context.Context {
	if c.IsReplaying() {
		return logger.ToContext(c.ctx, logger.Nop())
	}

	return c.ctx
}

// Err returns the error that stops this orchestration: a fatal replay or
// persistence failure, termination or engine shutdown.
func (c *Context) Err() error {
	if c.fatal != nil {
		return c.fatal
	}

	if c.ctx.Err() != nil {
		return context.Cause(c.ctx)
	}

	return nil
}

// CreateTimer blocks until fireAt. The timer is durable: after a restart it
// fires at the recorded time, or immediately if that time has passed.
func (c *Context) CreateTimer(fireAt time.Time) error {
	if err := c.Err(); err != nil {
		return err
	}

	created, err := c.replay(wf.StepTimerCreated, "")
	if err != nil {
		return err
	}

	if created != nil {
		if err = json.Unmarshal(created.Payload, &fireAt); err != nil {
			return c.fail(fmt.Errorf("decode timer at step %d: %w", created.Seq, err))
		}
	} else if _, err = c.record(wf.StepTimerCreated, "", fireAt, ""); err != nil {
		return err
	}

	fired, err := c.replay(wf.StepTimerFired, "")
	if err != nil {
		return err
	}

	if fired != nil {
		return nil
	}

	if wait := time.Until(fireAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-c.ctx.Done():
			return c.Err()
		}
	}

	_, err = c.record(wf.StepTimerFired, "", nil, "")

	return err
}

// CallActivity invokes the named activity with input and decodes its result
// into result, which may be nil. A failed activity yields *ActivityError.
func (c *Context) CallActivity(name string, input, result any) error {
	if err := c.Err(); err != nil {
		return err
	}

	step, err := c.replay(wf.StepActivityCompleted, name)
	if err != nil {
		return err
	}

	if step == nil {
		fn, ok := c.engine.activity(name)
		if !ok {
			return c.fail(fmt.Errorf("%w: %s", ErrUnknownActivity, name))
		}

		data, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encode input of %s: %w", name, err)
		}

		output, activityErr := runActivity(c.ctx, name, fn, data)
		if c.ctx.Err() != nil {
			return c.Err()
		}

		message := ""
		if activityErr != nil {
			message = activityErr.Error()
		}

		if step, err = c.record(wf.StepActivityCompleted, name, output, message); err != nil {
			return err
		}
	}

	if step.Error != "" {
		return &ActivityError{Name: name, Message: step.Error}
	}

	if result == nil || len(step.Payload) == 0 {
		return nil
	}

	if err = json.Unmarshal(step.Payload, result); err != nil {
		return fmt.Errorf("decode result of %s: %w", name, err)
	}

	return nil
}

// WithLock runs fn inside the critical section of the entity. Locking an
// entity this orchestration already holds fails with entity.ErrLockingViolation.
func (c *Context) WithLock(id door.EntityID, fn func(sec EntitySection) error) error {
	if err := c.Err(); err != nil {
		return err
	}

	if _, held := c.locked[id]; held {
		return fmt.Errorf("%w: %s is already locked by instance %s", entity.ErrLockingViolation, id, c.instance.ID)
	}

	c.locked[id] = struct{}{}
	defer delete(c.locked, id)

	return c.engine.entities.WithLock(c.ctx, id, func(ctx context.Context, sec entity.Section) error {
		return fn(&lockedEntity{
			owner:   c,
			ctx:     ctx,
			id:      id,
			section: sec,
		})
	})
}

// replay consumes the recorded step at the cursor, if any, and checks that it
// matches what the orchestrator asks for.
func (c *Context) replay(kind wf.StepKind, name string) (*wf.Step, error) {
	if c.next >= len(c.history) {
		return nil, nil //nolint:nilnil // No recorded step means live execution.
	}

	step := &c.history[c.next]
	if step.Kind != kind || step.Name != name {
		return nil, c.fail(fmt.Errorf("%w: step %d is %s %q, orchestrator asked for %s %q",
			ErrNondeterminism, step.Seq, step.Kind, step.Name, kind, name))
	}

	c.next++
	c.now = step.RecordedAt

	return step, nil
}

// record appends a new step to the persisted history.
func (c *Context) record(kind wf.StepKind, name string, payload any, message string) (*wf.Step, error) {
	var data json.RawMessage

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, c.fail(fmt.Errorf("encode %s step: %w", kind, err))
		}

		data = encoded
	}

	step := wf.Step{
		InstanceID: c.instance.ID,
		Seq:        c.next,
		Kind:       kind,
		Name:       name,
		Payload:    data,
		Error:      message,
		RecordedAt: time.Now(),
	}

	if err := c.engine.history.AppendStep(c.ctx, &step); err != nil {
		if c.ctx.Err() != nil {
			return nil, c.Err()
		}

		return nil, c.fail(fmt.Errorf("record %s step: %w", kind, err))
	}

	c.history = append(c.history, step)
	c.next++
	c.now = step.RecordedAt

	return &c.history[len(c.history)-1], nil
}

// fail marks the orchestration as broken beyond recovery.
func (c *Context) fail(err error) error {
	if c.fatal == nil {
		c.fatal = err
	}

	return c.fatal
}

// lockedEntity records the reads of a locked entity.
type lockedEntity struct {
	owner   *Context
	ctx     context.Context
	id      door.EntityID
	section entity.Section
}

func (l *lockedEntity) Read() (string, error) {
	c := l.owner
	key := l.id.String()

	step, err := c.replay(wf.StepEntityRead, key)
	if err != nil {
		return "", err
	}

	if step == nil {
		value, _, readErr := l.section.Read(l.ctx)
		if readErr != nil && c.ctx.Err() != nil {
			return "", c.Err()
		}

		// A failed read is recorded too, so a replay takes the same branch.
		if readErr != nil {
			step, err = c.record(wf.StepEntityRead, key, nil, readErr.Error())
		} else {
			step, err = c.record(wf.StepEntityRead, key, value, "")
		}

		if err != nil {
			return "", err
		}
	}

	if step.Error != "" {
		return "", fmt.Errorf("%w: %s: %s", ErrEntityRead, key, step.Error)
	}

	var value string
	if err = json.Unmarshal(step.Payload, &value); err != nil {
		return "", c.fail(fmt.Errorf("decode %s at step %d: %w", key, step.Seq, err))
	}

	return value, nil
}
