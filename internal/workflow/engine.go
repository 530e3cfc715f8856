package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/repository/entity"
	"github.com/oshokin/door-monitor/internal/repository/history"
)

// Orchestrator is the body of a workflow. Its result is JSON-encoded into the
// instance output.
type Orchestrator func(ctx *Context) (any, error)

// Activity is a side-effecting operation invoked by orchestrators.
// Its result is JSON-encoded into the history.
type Activity func(ctx context.Context, input json.RawMessage) (any, error)

// Observer is notified about instance lifecycle events.
type Observer interface {
	InstanceStarted(name string)
	InstanceFinished(name string, status wf.Status)
}

// Option configures the engine.
type Option func(*Engine)

// WithObserver installs a lifecycle observer.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// Engine runs orchestration instances and persists their progress.
type Engine struct {
	// history persists instances and step logs.
	history history.Store
	// entities serves locked entity reads.
	entities entity.Store
	// observer receives lifecycle events.
	observer Observer

	// baseCtx is the parent of every instance context.
	baseCtx context.Context
	// stop cancels baseCtx when the engine closes.
	stop context.CancelCauseFunc

	// mu protects the fields below.
	mu sync.Mutex
	// orchestrators maps names to registered orchestrators.
	orchestrators map[string]Orchestrator
	// activities maps names to registered activities.
	activities map[string]Activity
	// running tracks the goroutines of live instances.
	running map[string]*run
	// closed rejects new instances once set.
	closed bool
}

// run is the in-process handle of a live instance.
type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewEngine creates an engine. ctx supplies the logger of every instance;
// its cancellation does not stop the engine, Close does.
func NewEngine(ctx context.Context, store history.Store, entities entity.Store, opts ...Option) *Engine {
	baseCtx, stop := context.WithCancelCause(context.WithoutCancel(ctx))

	e := &Engine{
		history:       store,
		entities:      entities,
		observer:      nopObserver{},
		baseCtx:       logger.WithName(baseCtx, "workflow"),
		stop:          stop,
		orchestrators: make(map[string]Orchestrator),
		activities:    make(map[string]Activity),
		running:       make(map[string]*run),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegisterOrchestrator makes an orchestrator startable under name.
func (e *Engine) RegisterOrchestrator(name string, fn Orchestrator) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.orchestrators[name] = fn
}

// RegisterActivity makes an activity callable under name.
func (e *Engine) RegisterActivity(name string, fn Activity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.activities[name] = fn
}

// Start persists a new instance of the named orchestrator and runs it in the
// background. It returns the generated instance id.
func (e *Engine) Start(ctx context.Context, name string, input any) (string, error) {
	e.mu.Lock()
	_, known := e.orchestrators[name]
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return "", ErrEngineClosed
	}

	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrchestrator, name)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}

	now := time.Now()
	instance := &wf.Instance{
		ID:        uuid.NewString(),
		Name:      name,
		Input:     data,
		Status:    wf.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err = e.history.CreateInstance(ctx, instance); err != nil {
		return "", fmt.Errorf("persist instance: %w", err)
	}

	if err = e.launch(instance, nil); err != nil {
		return "", err
	}

	e.observer.InstanceStarted(name)
	logger.InfoKV(ctx, "Started orchestration", "name", name, "instance_id", instance.ID)

	return instance.ID, nil
}

// Status returns the persisted state of an instance.
func (e *Engine) Status(ctx context.Context, id string) (*wf.Instance, error) {
	instance, err := e.history.GetInstance(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return instance, nil
}

// Terminate stops a running instance and records reason as its error.
func (e *Engine) Terminate(ctx context.Context, id, reason string) error {
	instance, err := e.Status(ctx, id)
	if err != nil {
		return err
	}

	ok, err := e.history.Finish(ctx, id, wf.StatusTerminated, nil, reason)
	if err != nil {
		return fmt.Errorf("terminate %s: %w", id, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotRunning, id)
	}

	e.mu.Lock()
	r := e.running[id]
	e.mu.Unlock()

	if r != nil {
		r.cancel(errTerminated)

		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.observer.InstanceFinished(instance.Name, wf.StatusTerminated)
	logger.InfoKV(ctx, "Terminated orchestration", "instance_id", id, "reason", reason)

	return nil
}

// Resume relaunches every instance persisted as Running and returns how many
// were resumed. Instances already live in this engine are skipped.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	instances, err := e.history.ListInstances(ctx, wf.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running instances: %w", err)
	}

	resumed := 0

	for _, instance := range instances {
		e.mu.Lock()
		_, live := e.running[instance.ID]
		e.mu.Unlock()

		if live {
			continue
		}

		steps, err := e.history.LoadSteps(ctx, instance.ID)
		if err != nil {
			return resumed, fmt.Errorf("load history of %s: %w", instance.ID, err)
		}

		if err = e.launch(instance, steps); err != nil {
			return resumed, err
		}

		resumed++

		logger.InfoKV(ctx, "Resumed orchestration",
			"name", instance.Name,
			"instance_id", instance.ID,
			"recorded_steps", len(steps),
		)
	}

	return resumed, nil
}

// Wait blocks until the instance goroutine exits (if it runs in this
// engine) and returns the persisted instance.
func (e *Engine) Wait(ctx context.Context, id string) (*wf.Instance, error) {
	e.mu.Lock()
	r := e.running[id]
	e.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return e.Status(ctx, id)
}

// Close suspends every live instance without changing its persisted status,
// so the next Resume continues it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true

	runs := make([]*run, 0, len(e.running))
	for _, r := range e.running {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	e.stop(errEngineStopped)

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// launch starts the goroutine of an instance.
func (e *Engine) launch(instance *wf.Instance, steps []wf.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	fn, ok := e.orchestrators[instance.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrchestrator, instance.Name)
	}

	runCtx, cancel := context.WithCancelCause(e.baseCtx)
	r := &run{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.running[instance.ID] = r

	go e.execute(runCtx, fn, instance, steps, r)

	return nil
}

// execute runs one instance to completion, suspension or termination.
func (e *Engine) execute(ctx context.Context, fn Orchestrator, instance *wf.Instance, steps []wf.Step, r *run) {
	defer func() {
		e.mu.Lock()
		delete(e.running, instance.ID)
		e.mu.Unlock()

		r.cancel(nil)
		close(r.done)
	}()

	ctx = logger.WithKV(ctx, "instance_id", instance.ID)
	wctx := newContext(ctx, e, instance, steps)

	output, err := invoke(fn, wctx)

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, errTerminated) {
			logger.Info(ctx, "Orchestration stopped after termination")
		} else {
			logger.InfoKV(ctx, "Orchestration suspended", "cause", cause)
		}

		return
	}

	if wctx.fatal != nil {
		err = wctx.fatal
	}

	// The instance context may already be gone, the final write must still happen.
	finishCtx := context.WithoutCancel(ctx)

	if err != nil {
		e.finish(finishCtx, instance, wf.StatusFailed, nil, err.Error())
		return
	}

	data, err := json.Marshal(output)
	if err != nil {
		e.finish(finishCtx, instance, wf.StatusFailed, nil, fmt.Sprintf("encode output: %v", err))
		return
	}

	e.finish(finishCtx, instance, wf.StatusCompleted, data, "")
}

// finish records a terminal status unless the instance was terminated meanwhile.
func (e *Engine) finish(ctx context.Context, instance *wf.Instance, status wf.Status, output []byte, reason string) {
	ok, err := e.history.Finish(ctx, instance.ID, status, output, reason)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to record orchestration result", "status", status, "error", err)
		return
	}

	if !ok {
		return
	}

	e.observer.InstanceFinished(instance.Name, status)

	if status == wf.StatusFailed {
		logger.ErrorKV(ctx, "Orchestration failed", "error", reason)
		return
	}

	logger.InfoKV(ctx, "Orchestration completed", "output", string(output))
}

// activity returns a registered activity.
func (e *Engine) activity(name string) (Activity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.activities[name]

	return fn, ok
}

// invoke runs the orchestrator, converting a panic into an error.
func invoke(fn Orchestrator, wctx *Context) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator panicked: %v", r)
		}
	}()

	return fn(wctx)
}

// runActivity runs an activity, converting a panic into an error.
func runActivity(ctx context.Context, name string, fn Activity, input json.RawMessage) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity %s panicked: %v", name, r)
		}
	}()

	return fn(logger.WithKV(ctx, "activity", name), input)
}

// nopObserver discards lifecycle events.
type nopObserver struct{}

func (nopObserver) InstanceStarted(string) {}
func (nopObserver) InstanceFinished(string, wf.Status) {}
