package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	listener "github.com/tigerroll/apiary/pkg/hive/listener/metrics"
)

type MockRecorder struct{ mock.Mock }

func (m *MockRecorder) RecordRunStart(ctx context.Context, run *model.JobRun) { m.Called(ctx, run) }
func (m *MockRecorder) RecordRunEnd(ctx context.Context, run *model.JobRun)   { m.Called(ctx, run) }
func (m *MockRecorder) RecordPoll(ctx context.Context, run *model.JobRun, counts map[model.StepStatus]int) {
	m.Called(ctx, run, counts)
}
func (m *MockRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	m.Called(ctx, name, d, tags)
}

func TestMetricsRunListener(t *testing.T) {
	ctx := context.Background()
	run := &model.JobRun{ID: "r", JobName: "emails"}
	rec := new(MockRecorder)
	rec.On("RecordRunStart", ctx, run).Once()
	rec.On("RecordPoll", ctx, run, map[model.StepStatus]int{
		model.StepStatusCompleted: 2,
		model.StepStatusRunning:   1,
	}).Once()
	rec.On("RecordRunEnd", ctx, run).Once()

	l := listener.NewMetricsRunListener(rec)
	l.BeforeRun(ctx, run)
	l.OnPoll(ctx, run, []port.Step{
		{Name: "emails", Status: model.StepStatusCompleted},
		{Name: "emails-2", Status: model.StepStatusCompleted},
		{Name: "emails-3", Status: model.StepStatusRunning},
	})
	l.AfterRun(ctx, run, nil)

	rec.AssertExpectations(t)
}
