package flowsim

import (
	"errors"
	"fmt"
)

var (
	ErrEntityNotFound = errors.New("entity not found")

	// Structural errors. They abort a run before any step executes.
	ErrWorkflowUndefined  = errors.New("workflow undefined")
	ErrCircuitDetected    = errors.New("circuit detected")
	ErrStartStepUndefined = errors.New("start step undefined")

	// Branch-scoped errors, always wrapped in a *StepError.
	ErrTargetStepUndefined = errors.New("target step undefined")
	ErrMaxStepsExceeded    = errors.New("max steps exceeded")
	ErrDeadBranch          = errors.New("branch has no end step")

	ErrInvalidOutcome    = errors.New("invalid step outcome")
	ErrInvalidStepType   = errors.New("invalid step type")
	ErrRunInProgress     = errors.New("run already in progress")
	ErrRunFrozen         = errors.New("run is finished")
	ErrRunNotStarted     = errors.New("run is not started")
	ErrInvalidSnapshot   = errors.New("invalid workflow snapshot")
	ErrInvalidTransition = errors.New("invalid transition")
)

// StepError aborts a single branch of a run. The executor reports it through
// the step-failure event and keeps sibling branches running.
type StepError struct {
	Step *Step
	Err  error
	// Detail names the offending reference, e.g. the missing target id.
	Detail string
}

func newStepError(step *Step, err error, detail string) *StepError {
	return &StepError{Step: step, Err: err, Detail: detail}
}

func (e *StepError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
	}

	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsBranchError reports whether err is a branch-scoped failure.
func IsBranchError(err error) bool {
	var stepErr *StepError

	return errors.As(err, &stepErr)
}
