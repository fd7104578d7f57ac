// Package gorm persists job run history to SQLite, PostgreSQL or MySQL through GORM.
package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/repository"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "history"

// jobRunRecord is the row layout of the job_runs table.
type jobRunRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	JobID          string `gorm:"size:128;index"`
	JobKey         string `gorm:"size:255"`
	JobName        string `gorm:"size:255;index"`
	Runner         string `gorm:"size:32"`
	ExecutionID    string `gorm:"size:255"`
	State          string `gorm:"size:32"`
	StartTime      time.Time
	EndTime        *time.Time
	StepTimeMillis int64
	PollCount      int
	ClusterState   string `gorm:"size:64"`
	Reason         string `gorm:"type:text"`
	Failures       []string `gorm:"type:text;serializer:json"`
	LastUpdated    time.Time
}

func (jobRunRecord) TableName() string { return "job_runs" }

func toRecord(run *model.JobRun) jobRunRecord {
	return jobRunRecord{
		ID:             run.ID,
		JobID:          run.JobID,
		JobKey:         run.JobKey,
		JobName:        run.JobName,
		Runner:         string(run.Runner),
		ExecutionID:    run.ExecutionID,
		State:          run.State.String(),
		StartTime:      run.StartTime,
		EndTime:        run.EndTime,
		StepTimeMillis: run.StepTime.Milliseconds(),
		PollCount:      run.PollCount,
		ClusterState:   run.ClusterState,
		Reason:         run.Reason,
		Failures:       run.Failures,
		LastUpdated:    run.LastUpdated,
	}
}

func (rec jobRunRecord) toModel() *model.JobRun {
	run := &model.JobRun{
		ID:           rec.ID,
		JobID:        rec.JobID,
		JobKey:       rec.JobKey,
		JobName:      rec.JobName,
		Runner:       model.RunnerType(rec.Runner),
		ExecutionID:  rec.ExecutionID,
		State:        model.RunState(rec.State),
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		StepTime:     time.Duration(rec.StepTimeMillis) * time.Millisecond,
		PollCount:    rec.PollCount,
		ClusterState: rec.ClusterState,
		Reason:       rec.Reason,
		LastUpdated:  rec.LastUpdated,
	}
	if len(rec.Failures) > 0 {
		run.Failures = append([]string(nil), rec.Failures...)
	}
	return run
}

// JobRunRepository is a repository.JobRunRepository backed by a GORM connection.
type JobRunRepository struct {
	db *gorm.DB
}

// Open connects to the database described by cfg and applies the job_runs migrations.
//
// Parameters:
//
//	cfg: history settings; cfg.Type selects the registered dialector.
//	logLevel: GORM log level (SILENT, ERROR, WARN, INFO).
func Open(ctx context.Context, cfg config.HistoryConfig, logLevel string) (*JobRunRepository, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logLevel)})
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to open "+cfg.Type+" history database", err)
	}
	repo := NewJobRunRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	logger.Infof("Run history stored in %s database", cfg.Type)
	return repo, nil
}

// NewJobRunRepository wraps an open connection. The schema is not touched.
func NewJobRunRepository(db *gorm.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

// SaveJobRun upserts run by ID.
func (r *JobRunRepository) SaveJobRun(ctx context.Context, run *model.JobRun) error {
	rec := toRecord(run)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return exception.NewExecutionFailure(moduleName, "failed to save job run "+run.ID, run.State.String(), err.Error(), err)
	}
	return nil
}

// FindJobRunByID returns repository.ErrJobRunNotFound when no row matches.
func (r *JobRunRepository) FindJobRunByID(ctx context.Context, id string) (*model.JobRun, error) {
	var rec jobRunRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobRunNotFound
	}
	if err != nil {
		return nil, exception.NewExecutionFailure(moduleName, "failed to load job run "+id, "", err.Error(), err)
	}
	return rec.toModel(), nil
}

// FindJobRunsByJobName returns runs of jobName, newest first. limit <= 0 means no limit.
func (r *JobRunRepository) FindJobRunsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	q := r.db.WithContext(ctx).Where("job_name = ?", jobName).Order("start_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []jobRunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, exception.NewExecutionFailure(moduleName, "failed to list runs of "+jobName, "", err.Error(), err)
	}
	runs := make([]*model.JobRun, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.toModel())
	}
	return runs, nil
}

// Close closes the underlying database handle.
func (r *JobRunRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ repository.JobRunRepository = (*JobRunRepository)(nil)
