package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/door-monitor/internal/domain/door"
	"github.com/oshokin/door-monitor/internal/logger"
)

const (
	// signalRetryMin is the first wait before re-applying a failed signal.
	signalRetryMin = 100 * time.Millisecond
	// signalRetryMax caps the wait between attempts.
	signalRetryMax = 5 * time.Second
)

var (
	// ErrLockingViolation is returned when a call chain tries to lock an
	// entity it already holds.
	ErrLockingViolation = errors.New("entity locking violation")
	// ErrClosed is returned when signalling a closed store.
	ErrClosed = errors.New("entity store is closed")
)

// Section is the view of an entity granted inside a critical section.
type Section interface {
	// Read returns the committed value of the locked entity.
	Read(ctx context.Context) (value string, exists bool, err error)
	// Update replaces the value of the locked entity.
	Update(ctx context.Context, value string) error
}

// Store is the entity contract consumed by the ingestion endpoint and the
// workflow engine.
type Store interface {
	Read(ctx context.Context, id door.EntityID) (value string, exists bool, err error)
	Update(ctx context.Context, id door.EntityID, value string) error
	Signal(ctx context.Context, id door.EntityID, value string) error
	Settle(ctx context.Context, id door.EntityID) error
	WithLock(ctx context.Context, id door.EntityID, fn func(ctx context.Context, sec Section) error) error
}

// Entities serializes access to entity keys on top of a Backend.
type Entities struct {
	// backend persists the values.
	backend Backend

	// mu protects locks, mailboxes and closed.
	mu sync.Mutex
	// locks holds one critical section per key.
	locks map[door.EntityID]*keyLock
	// mailboxes holds the pending signals per key.
	mailboxes map[door.EntityID]*mailbox
	// closed rejects new signals once set.
	closed bool
	// stop aborts signals still failing when Close gives up waiting.
	stop     chan struct{}
	stopOnce sync.Once
}

// mailbox queues signalled values of one key; a single drainer applies them in order.
type mailbox struct {
	mu       sync.Mutex
	queue    []string
	draining bool
	// idle is closed when the current drainer finishes.
	idle chan struct{}
}

// NewEntities creates a store over the given backend.
func NewEntities(backend Backend) *Entities {
	return &Entities{
		backend:   backend,
		locks:     make(map[door.EntityID]*keyLock),
		mailboxes: make(map[door.EntityID]*mailbox),
		stop:      make(chan struct{}),
	}
}

// Read returns the last committed value. It does not wait for a critical
// section in progress, so it may observe the value from before that section.
func (e *Entities) Read(ctx context.Context, id door.EntityID) (string, bool, error) {
	return e.backend.Load(ctx, id)
}

// Update replaces the value atomically with respect to other operations on id.
// Inside a WithLock section for id it writes directly.
func (e *Entities) Update(ctx context.Context, id door.EntityID, value string) error {
	if holds(ctx, id) {
		return e.backend.Save(ctx, id, value)
	}

	lock := e.lock(id)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("acquire %s: %w", id, err)
	}
	defer lock.release()

	return e.backend.Save(ctx, id, value)
}

// WithLock runs fn with exclusive access to id. The lock is released on every
// exit path of fn, including a panic. Locking an entity the call chain already
// holds returns ErrLockingViolation instead of deadlocking.
func (e *Entities) WithLock(
	ctx context.Context,
	id door.EntityID,
	fn func(ctx context.Context, sec Section) error,
) error {
	if holds(ctx, id) {
		return fmt.Errorf("%w: %s is already locked by this caller", ErrLockingViolation, id)
	}

	lock := e.lock(id)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("acquire %s: %w", id, err)
	}
	defer lock.release()

	return fn(withHeld(ctx, id), &section{entities: e, id: id})
}

// Signal queues an update of id and returns without waiting for it.
// Signals of one key are applied in order, each exactly once: a failed write
// stays at the head of the queue and is retried until it succeeds or Close
// gives up on it.
func (e *Entities) Signal(ctx context.Context, id door.EntityID, value string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	mb, ok := e.mailboxes[id]
	if !ok {
		mb = new(mailbox)
		e.mailboxes[id] = mb
	}
	e.mu.Unlock()

	mb.mu.Lock()
	mb.queue = append(mb.queue, value)

	start := !mb.draining
	if start {
		mb.draining = true
		mb.idle = make(chan struct{})
	}
	mb.mu.Unlock()

	if start {
		go e.drain(context.WithoutCancel(ctx), id, mb)
	}

	return nil
}

// Settle waits until every signal of id queued so far has been applied.
func (e *Entities) Settle(ctx context.Context, id door.EntityID) error {
	e.mu.Lock()
	mb, ok := e.mailboxes[id]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	return mb.wait(ctx)
}

// Flush waits until every signal queued so far has been applied.
func (e *Entities) Flush(ctx context.Context) error {
	e.mu.Lock()
	boxes := make([]*mailbox, 0, len(e.mailboxes))
	for _, mb := range e.mailboxes {
		boxes = append(boxes, mb)
	}
	e.mu.Unlock()

	for _, mb := range boxes {
		if err := mb.wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Close rejects further signals and waits for the queued ones. If ctx ends
// first, signals that still fail are abandoned.
func (e *Entities) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	err := e.Flush(ctx)
	if err != nil {
		e.stopOnce.Do(func() { close(e.stop) })
	}

	return err
}

// drain applies queued values of one key until the queue is empty.
func (e *Entities) drain(ctx context.Context, id door.EntityID, mb *mailbox) {
	backoff := signalRetryMin

	for {
		mb.mu.Lock()
		if len(mb.queue) == 0 {
			mb.draining = false
			close(mb.idle)
			mb.mu.Unlock()

			return
		}

		value := mb.queue[0]
		mb.mu.Unlock()

		err := e.Update(ctx, id, value)
		if err == nil {
			mb.mu.Lock()
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()

			backoff = signalRetryMin

			logger.DebugKV(ctx, "Entity signal applied", "entity", id.String(), "value", value)

			continue
		}

		logger.ErrorKV(ctx, "Failed to apply entity signal, retrying",
			"entity", id.String(), "value", value, "retry_in", backoff.String(), "error", err)

		if !e.pause(backoff) {
			mb.mu.Lock()
			dropped := len(mb.queue)
			mb.queue = nil
			mb.mu.Unlock()

			logger.ErrorKV(ctx, "Entity store closed, pending signals dropped",
				"entity", id.String(), "dropped", dropped)

			continue
		}

		backoff = min(backoff*2, signalRetryMax)
	}
}

// pause waits for d and reports false if the store gave up on pending signals.
func (e *Entities) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-e.stop:
		return false
	}
}

// wait blocks until the mailbox has no drainer.
func (mb *mailbox) wait(ctx context.Context) error {
	for {
		mb.mu.Lock()
		draining, idle := mb.draining, mb.idle
		mb.mu.Unlock()

		if !draining {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// lock returns the critical section of id, creating it on first use.
func (e *Entities) lock(id door.EntityID) *keyLock {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[id]
	if !ok {
		l = newKeyLock()
		e.locks[id] = l
	}

	return l
}

// section is the Section handed to WithLock callbacks.
type section struct {
	entities *Entities
	id       door.EntityID
}

func (s *section) Read(ctx context.Context) (string, bool, error) {
	return s.entities.backend.Load(ctx, s.id)
}

func (s *section) Update(ctx context.Context, value string) error {
	return s.entities.backend.Save(ctx, s.id, value)
}
