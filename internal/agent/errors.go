package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxIterations is returned when the model keeps requesting tools
	// past the configured iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider is returned when a round is built without a provider.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyResponse is returned when the model finishes without text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// LoopPhase identifies where in the round an error occurred.
type LoopPhase string

const (
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError represents an error that occurred during a completion round.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}
