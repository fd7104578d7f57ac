// Package history saves every state a run passes through to a JobRunRepository.
package history

import (
	"context"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/repository"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// HistoryRunListener persists the run before it starts, on every poll, and after it ends.
// Save failures are logged and never fail the run.
type HistoryRunListener struct {
	repo repository.JobRunRepository
}

func NewHistoryRunListener(repo repository.JobRunRepository) port.RunListener {
	return &HistoryRunListener{repo: repo}
}

func (l *HistoryRunListener) BeforeRun(ctx context.Context, run *model.JobRun) {
	l.save(ctx, run)
}

func (l *HistoryRunListener) OnPoll(ctx context.Context, run *model.JobRun, steps []port.Step) {
	l.save(ctx, run)
}

func (l *HistoryRunListener) AfterRun(ctx context.Context, run *model.JobRun, err error) {
	// The run context may already be cancelled; the final state is still recorded.
	l.save(context.WithoutCancel(ctx), run)
}

func (l *HistoryRunListener) save(ctx context.Context, run *model.JobRun) {
	if err := l.repo.SaveJobRun(ctx, run); err != nil {
		logger.Warnf("Failed to save run %s (job %s) to history: %v", run.ID, run.JobName, err)
	}
}

var _ port.RunListener = (*HistoryRunListener)(nil)
