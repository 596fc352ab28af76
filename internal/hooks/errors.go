package hooks

import (
	"errors"
	"fmt"
)

var (
	// ErrReentrantResolve indicates a session was begun from within an active session.
	ErrReentrantResolve = errors.New("resolution already in progress for this call chain")
	// ErrHookUnregistered indicates a hook's registration was removed mid-session.
	ErrHookUnregistered = errors.New("resolver hook unregistered")
	// ErrSessionState indicates a session callback invoked out of lifecycle order.
	ErrSessionState = errors.New("invalid session state")
)

// Phase names a session callback.
type Phase string

const (
	PhaseBegin                     Phase = "begin"
	PhaseFilterResolvable          Phase = "filterResolvable"
	PhaseFilterSingletonCollisions Phase = "filterSingletonCollisions"
	PhaseFilterMatches             Phase = "filterMatches"
	PhaseEnd                       Phase = "end"
)

// HookError is a failure raised by one hook during one phase.
type HookError struct {
	Hook  string
	Phase Phase
	Err   error
}

func (e *HookError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("hooks: %s hook %q: %v", e.Phase, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
