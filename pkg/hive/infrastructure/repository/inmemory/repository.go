// Package inmemory keeps job run history in process memory.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/repository"
)

// JobRunRepository is a map-backed repository.JobRunRepository.
type JobRunRepository struct {
	runs map[string]model.JobRun
	mu   sync.RWMutex
}

// NewJobRunRepository creates an empty repository.
func NewJobRunRepository() *JobRunRepository {
	return &JobRunRepository{runs: make(map[string]model.JobRun)}
}

// SaveJobRun stores a copy of run, replacing any run with the same ID.
func (r *JobRunRepository) SaveJobRun(ctx context.Context, run *model.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = copyRun(run)
	return nil
}

// FindJobRunByID returns a copy of the stored run.
func (r *JobRunRepository) FindJobRunByID(ctx context.Context, id string) (*model.JobRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, repository.ErrJobRunNotFound
	}
	c := copyRun(&run)
	return &c, nil
}

// FindJobRunsByJobName returns runs of jobName, newest first. limit <= 0 means no limit.
func (r *JobRunRepository) FindJobRunsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.JobRun
	for _, run := range r.runs {
		if run.JobName != jobName {
			continue
		}
		c := copyRun(&run)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (r *JobRunRepository) Close() error {
	return nil
}

func copyRun(run *model.JobRun) model.JobRun {
	c := *run
	if run.EndTime != nil {
		end := *run.EndTime
		c.EndTime = &end
	}
	c.Failures = append([]string(nil), run.Failures...)
	return c
}

var _ repository.JobRunRepository = (*JobRunRepository)(nil)
