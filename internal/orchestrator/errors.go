package orchestrator

import (
	"errors"
	"fmt"
)

// State is a step of the per-message turn state machine.
type State string

const (
	StateResolving   State = "resolving"
	StateLoading     State = "loading"
	StateCompleting  State = "completing"
	StateParsing     State = "parsing"
	StateCommitting  State = "committing"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// ErrEmptyMessage is returned for inbound messages without a sender.
var ErrEmptyMessage = errors.New("inbound message has no sender")

// TurnError reports the state in which a turn failed.
type TurnError struct {
	State     State
	ThreadKey string
	Cause     error
}

func (e *TurnError) Error() string {
	if e.ThreadKey != "" {
		return fmt.Sprintf("turn failed during %s (thread %s): %v", e.State, e.ThreadKey, e.Cause)
	}
	return fmt.Sprintf("turn failed during %s: %v", e.State, e.Cause)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// FailedState returns the state recorded on err, or StateFailed when err
// is not a TurnError.
func FailedState(err error) State {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr.State
	}
	return StateFailed
}
