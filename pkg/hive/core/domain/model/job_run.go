package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// RunnerType names an execution target.
type RunnerType string

const (
	RunnerLocal    RunnerType = "local"
	RunnerEMR      RunnerType = "emr"
	RunnerDataproc RunnerType = "dataproc"
)

// JobRun is the record of one run, kept by the run history.
type JobRun struct {
	ID          string
	JobID       string
	JobKey      string
	JobName     string
	Runner      RunnerType
	ExecutionID string
	State       RunState
	StartTime   time.Time
	EndTime     *time.Time
	// StepTime is the summed duration of all matched remote steps.
	StepTime     time.Duration
	PollCount    int
	ClusterState string
	Reason       string
	Failures     []string
	LastUpdated  time.Time
}

// NewID generates a new unique run ID.
func NewID() string {
	return uuid.New().String()
}

// NewJobRun creates a JobRun in INIT for the given identity.
func NewJobRun(jobName string, identity Identity, runner RunnerType) *JobRun {
	now := time.Now()
	return &JobRun{
		ID:          NewID(),
		JobID:       identity.ID,
		JobKey:      identity.Key,
		JobName:     jobName,
		Runner:      runner,
		State:       RunStateInit,
		StartTime:   now,
		LastUpdated: now,
	}
}

// TransitionTo moves the run to newState if the transition is allowed.
func (r *JobRun) TransitionTo(newState RunState) error {
	if err := ValidateTransition(r.State, newState); err != nil {
		return err
	}
	r.State = newState
	r.LastUpdated = time.Now()
	return nil
}

// MarkAsDone moves the run to DONE and stamps its end time.
func (r *JobRun) MarkAsDone() {
	if err := r.TransitionTo(RunStateDone); err != nil {
		logger.Warnf("Could not update JobRun (ID: %s) state to DONE: %v", r.ID, err)
		r.State = RunStateDone
	}
	r.finish()
}

// MarkAsFailed moves the run to FAILED, records err, and stamps its end time.
func (r *JobRun) MarkAsFailed(err error) {
	if tErr := r.TransitionTo(RunStateFailed); tErr != nil {
		logger.Warnf("Could not update JobRun (ID: %s) state to FAILED: %v", r.ID, tErr)
		r.State = RunStateFailed
	}
	if err != nil {
		r.AddFailure(err.Error())
	}
	r.finish()
}

// AddFailure appends a failure message, skipping exact duplicates.
func (r *JobRun) AddFailure(msg string) {
	for _, f := range r.Failures {
		if f == msg {
			return
		}
	}
	r.Failures = append(r.Failures, msg)
}

// Duration returns the wall-clock time of the run so far, or in total once finished.
func (r *JobRun) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

func (r *JobRun) finish() {
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
}
