package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLoopError(t *testing.T) {
	tests := []struct {
		name string
		err  *LoopError
		want string
	}{
		{
			name: "message",
			err:  &LoopError{Phase: PhaseExecuteTools, Iteration: 10, Message: "reached max iterations: 10", Cause: ErrMaxIterations},
			want: "loop error at execute_tools (iteration 10): reached max iterations: 10",
		},
		{
			name: "cause",
			err:  &LoopError{Phase: PhaseStream, Iteration: 2, Cause: context.Canceled},
			want: "loop error at stream (iteration 2): context canceled",
		},
		{
			name: "bare",
			err:  &LoopError{Phase: PhaseComplete},
			want: "loop error at complete (iteration 0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoopErrorUnwrap(t *testing.T) {
	var err error = &LoopError{Phase: PhaseStream, Cause: ErrEmptyResponse}
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatal("errors.Is should reach the cause")
	}
	var loopErr *LoopError
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseStream {
		t.Fatalf("errors.As = %+v", loopErr)
	}
	if strings.Contains((&LoopError{}).Error(), "<nil>") {
		t.Error("empty LoopError should not print a nil cause")
	}
}
