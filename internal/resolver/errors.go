package resolver

import (
	"errors"
	"fmt"

	"github.com/anvil-platform/wiring/internal/resource"
)

var (
	// ErrUnresolvable is matched by every *ResolutionError.
	ErrUnresolvable = errors.New("resolution failed")
)

// ResolutionError reports a mandatory resource the algorithm could not
// resolve. Requirement is nil when the resource itself was not eligible.
type ResolutionError struct {
	Resource    *resource.Resource
	Requirement *resource.Requirement
	Reason      string
	// Cause is the failure of the last provider tried, if any.
	Cause error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("resolver: cannot resolve %s", e.Resource)
	if e.Requirement != nil {
		msg += fmt.Sprintf(": requirement %s", e.Requirement)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrUnresolvable
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
