// Package metrics feeds run lifecycle events to a metrics.MetricRecorder.
package metrics

import (
	"context"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/metrics"
)

type MetricsRunListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsRunListener(recorder metrics.MetricRecorder) port.RunListener {
	return &MetricsRunListener{recorder: recorder}
}

func (l *MetricsRunListener) BeforeRun(ctx context.Context, run *model.JobRun) {
	l.recorder.RecordRunStart(ctx, run)
}

// OnPoll records the number of the job's steps per status.
func (l *MetricsRunListener) OnPoll(ctx context.Context, run *model.JobRun, steps []port.Step) {
	counts := make(map[model.StepStatus]int, len(steps))
	for _, s := range steps {
		counts[s.Status]++
	}
	l.recorder.RecordPoll(ctx, run, counts)
}

func (l *MetricsRunListener) AfterRun(ctx context.Context, run *model.JobRun, err error) {
	l.recorder.RecordRunEnd(ctx, run)
}

var _ port.RunListener = (*MetricsRunListener)(nil)
