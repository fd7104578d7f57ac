package model

import "fmt"

// StepStatus is the normalised state of a single remote step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusCancelled StepStatus = "CANCELLED"
)

// StepStatuses lists every StepStatus in lifecycle order.
func StepStatuses() []StepStatus {
	return []StepStatus{StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusFailed, StepStatusCancelled}
}

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// IsFinished reports whether the step has reached a terminal state.
func (s StepStatus) IsFinished() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// IsUnsuccessful reports whether the step ended FAILED or CANCELLED.
func (s StepStatus) IsUnsuccessful() bool {
	return s == StepStatusFailed || s == StepStatusCancelled
}

// RunState is the lifecycle state of one job run.
type RunState string

const (
	RunStateInit         RunState = "INIT"
	RunStateScriptStaged RunState = "SCRIPT_STAGED"
	RunStateSubmitted    RunState = "SUBMITTED"
	RunStatePolling      RunState = "POLLING"
	RunStateDone         RunState = "DONE"
	RunStateFailed       RunState = "FAILED"
)

// String returns the string representation of RunState.
func (s RunState) String() string {
	return string(s)
}

// IsFinished reports whether the run has reached DONE or FAILED.
func (s RunState) IsFinished() bool {
	return s == RunStateDone || s == RunStateFailed
}

var runTransitions = map[RunState][]RunState{
	RunStateInit:         {RunStateScriptStaged, RunStateFailed},
	RunStateScriptStaged: {RunStateSubmitted, RunStateFailed},
	RunStateSubmitted:    {RunStatePolling, RunStateFailed},
	RunStatePolling:      {RunStateDone, RunStateFailed},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error when moving from s to next is not allowed.
func ValidateTransition(current, next RunState) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid state transition: %s -> %s", current, next)
	}
	return nil
}
