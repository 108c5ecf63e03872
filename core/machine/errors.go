package machine

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is matched by every *InvariantViolation.
var ErrInvariantViolation = errors.New("machine: invariant violation")

// InvariantViolation reports a state change that could only have been
// produced by a defect upstream, such as a confirmed contract event for a
// channel the node never saw opened. The reducer refuses to guess a
// correction.
type InvariantViolation struct {
	StateChange string
	Reason      string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("machine: invariant violation applying %s: %s", e.StateChange, e.Reason)
}

// Is lets errors.Is match ErrInvariantViolation.
func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}

func invariant(stateChange string, format string, args ...any) error {
	return &InvariantViolation{StateChange: stateChange, Reason: fmt.Sprintf(format, args...)}
}
