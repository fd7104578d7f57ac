package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// Verdict is the conclusion drawn from one poll.
type Verdict int

const (
	// VerdictNoSteps means no step of the job was found.
	VerdictNoSteps Verdict = iota
	// VerdictPending means at least one step is PENDING or RUNNING and none failed.
	VerdictPending
	// VerdictDone means every step COMPLETED.
	VerdictDone
	// VerdictFailed means at least one step FAILED or was CANCELLED.
	VerdictFailed
)

// Outcome summarises the steps of one job seen in one poll.
type Outcome struct {
	Verdict Verdict
	// Steps are the steps whose name starts with the job name.
	Steps []port.Step
	// RunningStep is the name of the last RUNNING step, if any.
	RunningStep string
	// StepTime is the summed duration of the steps that have both timestamps.
	StepTime time.Duration
	// Counts is the number of steps per status.
	Counts map[model.StepStatus]int
	// Failed are the steps that ended FAILED or CANCELLED.
	Failed []port.Step
}

// Evaluate keeps the steps that belong to jobName and decides whether the run
// is done, failed, or still going.
func Evaluate(jobName string, steps []port.Step) Outcome {
	out := Outcome{Counts: make(map[model.StepStatus]int)}
	for _, s := range steps {
		if !strings.HasPrefix(s.Name, jobName) {
			continue
		}
		out.Steps = append(out.Steps, s)
		out.Counts[s.Status]++
		if s.Status == model.StepStatusRunning {
			out.RunningStep = s.Name
		}
		if s.Status.IsUnsuccessful() {
			out.Failed = append(out.Failed, s)
		}
		out.StepTime += s.Duration()
	}

	switch {
	case len(out.Steps) == 0:
		out.Verdict = VerdictNoSteps
	case out.Counts[model.StepStatusCompleted] == len(out.Steps):
		out.Verdict = VerdictDone
	case len(out.Failed) > 0:
		out.Verdict = VerdictFailed
	default:
		out.Verdict = VerdictPending
	}
	return out
}

// StatusMessage is the progress line logged while a run is still going.
func StatusMessage(elapsed time.Duration, status port.ExecutionStatus, runningStep string) string {
	msg := fmt.Sprintf("Job launched %ds ago. Status %s", int(elapsed.Seconds()), status.State)
	switch {
	case runningStep != "":
		return fmt.Sprintf("%s: %s (%s)", msg, status.Reason, runningStep)
	case status.Reason != "":
		return fmt.Sprintf("%s: %s", msg, status.Reason)
	default:
		return msg
	}
}

// failureError aggregates the reasons of the failed steps.
func failureError(failed []port.Step) error {
	var result *multierror.Error
	for _, s := range failed {
		reason := s.Reason
		if reason == "" {
			reason = "no reason reported"
		}
		result = multierror.Append(result, fmt.Errorf("step %s %s: %s", s.Name, s.Status, reason))
	}
	return result.ErrorOrNil()
}

// poll checks the execution every poll interval until the job's steps finish.
func (r *Runner) poll(ctx context.Context, run *model.JobRun) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "hive.poll", trace.WithAttributes(attribute.String("execution.id", run.ExecutionID)))
	defer span.End()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		logger.Debugf("Waiting %v before checking job %s", r.pollInterval, run.ExecutionID)
		select {
		case <-ctx.Done():
			logger.Warnf("Waiting for job on %s interrupted by context: %v", run.ExecutionID, ctx.Err())
			return Outcome{}, exception.NewExecutionFailure(moduleName,
				fmt.Sprintf("Job on %s interrupted", run.ExecutionID),
				model.StepStatusCancelled.String(), ctx.Err().Error(), ctx.Err())
		case <-ticker.C:
		}

		run.PollCount++
		status, err := r.engine.Describe(ctx, run.ExecutionID)
		if err != nil {
			return Outcome{}, r.pollError(ctx, run, err)
		}
		run.ClusterState = status.State
		run.Reason = status.Reason
		run.LastUpdated = r.now()

		steps, err := r.engine.ListSteps(ctx, run.ExecutionID)
		if err != nil {
			return Outcome{}, r.pollError(ctx, run, err)
		}

		outcome := Evaluate(r.job.Name(), steps)
		run.StepTime = outcome.StepTime
		span.AddEvent("poll", trace.WithAttributes(
			attribute.Int("poll.count", run.PollCount),
			attribute.String("execution.state", status.State),
			attribute.Int("steps.matched", len(outcome.Steps)),
		))
		for _, l := range r.listeners {
			l.OnPoll(ctx, run, outcome.Steps)
		}

		switch outcome.Verdict {
		case VerdictNoSteps:
			return outcome, exception.NewRaceConditionError(moduleName, "Can't find our steps in the job flow!")
		case VerdictDone:
			return outcome, nil
		case VerdictFailed:
			msg := fmt.Sprintf("Job on cluster %s failed with status %s: %s", run.ExecutionID, status.State, status.Reason)
			logger.Errorf("%s", msg)
			return outcome, exception.NewExecutionFailure(moduleName, msg, status.State, status.Reason, failureError(outcome.Failed))
		default:
			logger.Infof("%s", StatusMessage(r.now().Sub(run.StartTime), status, outcome.RunningStep))
		}
	}
}

// pollError keeps a cancellation distinguishable from an engine error.
func (r *Runner) pollError(ctx context.Context, run *model.JobRun, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return exception.NewExecutionFailure(moduleName,
			fmt.Sprintf("Job on %s interrupted", run.ExecutionID),
			model.StepStatusCancelled.String(), ctxErr.Error(), err)
	}
	return exception.NewExecutionFailure(moduleName,
		fmt.Sprintf("failed to check status of %s", run.ExecutionID), run.ClusterState, err.Error(), err)
}
