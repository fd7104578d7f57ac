// Package metrics defines the metric recording abstraction used by run listeners.
package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
)

// MetricRecorder records metrics about job runs. Implementations decide the backend.
type MetricRecorder interface {
	// RecordRunStart records that a run has started.
	RecordRunStart(ctx context.Context, run *model.JobRun)
	// RecordRunEnd records the final state and duration of a run.
	RecordRunEnd(ctx context.Context, run *model.JobRun)
	// RecordPoll records one poll iteration and the number of matched steps per status.
	RecordPoll(ctx context.Context, run *model.JobRun, stepCounts map[model.StepStatus]int)
	// RecordDuration records the length of an arbitrary operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
