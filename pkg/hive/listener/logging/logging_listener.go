package logging

import (
	"context"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

type LoggingRunListener struct{}

func NewLoggingRunListener() port.RunListener {
	return &LoggingRunListener{}
}

func (l *LoggingRunListener) BeforeRun(ctx context.Context, run *model.JobRun) {
	logger.Debugf("RunListener: BeforeRun - JobName: %s, JobID: %s, Runner: %s", run.JobName, run.JobID, run.Runner)
}

func (l *LoggingRunListener) OnPoll(ctx context.Context, run *model.JobRun, steps []port.Step) {
	for _, s := range steps {
		logger.Debugf("RunListener: OnPoll #%d - Execution: %s, Step: %s, Status: %s", run.PollCount, run.ExecutionID, s.Name, s.Status)
	}
}

func (l *LoggingRunListener) AfterRun(ctx context.Context, run *model.JobRun, err error) {
	if err != nil {
		logger.Errorf("RunListener: AfterRun - JobName: %s, State: %s, Error: %s", run.JobName, run.State, exception.ExtractErrorMessage(err))
		return
	}
	logger.Debugf("RunListener: AfterRun - JobName: %s, State: %s, Duration: %v", run.JobName, run.State, run.Duration())
}

var _ port.RunListener = (*LoggingRunListener)(nil)
