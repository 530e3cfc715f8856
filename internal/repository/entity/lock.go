package entity

import (
	"context"

	"github.com/oshokin/door-monitor/internal/domain/door"
)

// keyLock is the critical section of one entity key.
// A buffered channel is used instead of sync.Mutex so waiters honour
// context cancellation.
type keyLock struct {
	sem chan struct{}
}

func newKeyLock() *keyLock {
	return &keyLock{
		sem: make(chan struct{}, 1),
	}
}

// acquire blocks until the section is free or ctx is done.
func (l *keyLock) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyLock) release() {
	<-l.sem
}

// heldKey is the context key of the critical sections owned by a call chain.
type heldKey struct{}

// held is a linked list of entity keys locked by the current call chain.
type held struct {
	parent *held
	id     door.EntityID
}

// withHeld marks id as locked by the call chain of ctx.
func withHeld(ctx context.Context, id door.EntityID) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)

	return context.WithValue(ctx, heldKey{}, &held{parent: parent, id: id})
}

// holds reports whether the call chain of ctx already owns the lock of id.
func holds(ctx context.Context, id door.EntityID) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.parent {
		if h.id == id {
			return true
		}
	}

	return false
}
