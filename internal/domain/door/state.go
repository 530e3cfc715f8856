package door

import (
	"errors"
	"strings"
)

// State is the binary sensor value as reported by the device.
type State string

const (
	// StateOpen means the door is open.
	StateOpen State = "open"
	// StateClosed means the door is closed.
	StateClosed State = "closed"
	// StateUnknown is the value of an entity that has never been written.
	StateUnknown State = ""
)

// ErrEmptyState is returned when a report carries no state.
var ErrEmptyState = errors.New("state must not be empty")

// ParseState normalises a reported value: surrounding space is dropped and
// the value is lower-cased. Any non-empty value other than "closed" counts as
// an open-equivalent state.
func ParseState(raw string) (State, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StateUnknown, ErrEmptyState
	}

	return State(s), nil
}

// IsClosed reports whether the value means "closed", ignoring case.
func (s State) IsClosed() bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(StateClosed))
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateUnknown {
		return "unknown"
	}

	return string(s)
}

// Actor identifies who reported a state change.
type Actor struct {
	// Hostname is the machine name where the report was produced.
	Hostname string
	// Username is the system user who sent the report.
	Username string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders the actor as username@hostname.
func (a *Actor) String() string {
	if a == nil {
		return "<unknown>"
	}

	return a.Username + "@" + a.Hostname
}

// Report is one inbound state report.
type Report struct {
	// State is the normalised sensor value.
	State State
	// Actor is the optional reporter.
	Actor *Actor
}
