// Package repository defines persistence of job run history.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
)

// ErrJobRunNotFound is returned when no run matches the lookup.
var ErrJobRunNotFound = errors.New("job run not found")

// JobRunRepository stores JobRun records.
type JobRunRepository interface {
	// SaveJobRun inserts or replaces a run keyed by its ID.
	SaveJobRun(ctx context.Context, run *model.JobRun) error
	FindJobRunByID(ctx context.Context, id string) (*model.JobRun, error)
	// FindJobRunsByJobName returns runs of a job, newest first.
	FindJobRunsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error)
	Close() error
}
