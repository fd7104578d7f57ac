// Package dataproc submits Hive scripts to an existing Google Cloud Dataproc cluster.
package dataproc

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	dp "google.golang.org/api/dataproc/v1"
	"google.golang.org/api/option"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "dataproc"

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-central1"

// Dataproc job states.
const (
	StatePending        = "PENDING"
	StateSetupDone      = "SETUP_DONE"
	StateRunning        = "RUNNING"
	StateCancelPending  = "CANCEL_PENDING"
	StateCancelStarted  = "CANCEL_STARTED"
	StateCancelled      = "CANCELLED"
	StateDone           = "DONE"
	StateError          = "ERROR"
	StateAttemptFailure = "ATTEMPT_FAILURE"
)

var invalidJobIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// API is the part of the Dataproc jobs service the engine uses.
type API interface {
	SubmitJob(ctx context.Context, project, region string, job *dp.Job) (*dp.Job, error)
	GetJob(ctx context.Context, project, region, jobID string) (*dp.Job, error)
}

type serviceAPI struct {
	svc *dp.Service
}

func (s *serviceAPI) SubmitJob(ctx context.Context, project, region string, job *dp.Job) (*dp.Job, error) {
	return s.svc.Projects.Regions.Jobs.Submit(project, region, &dp.SubmitJobRequest{Job: job}).Context(ctx).Do()
}

func (s *serviceAPI) GetJob(ctx context.Context, project, region, jobID string) (*dp.Job, error) {
	return s.svc.Projects.Regions.Jobs.Get(project, region, jobID).Context(ctx).Do()
}

// Config selects the cluster jobs are submitted to.
type Config struct {
	Project         string
	Region          string
	Cluster         string
	CredentialsFile string
	Endpoint        string
}

// Engine is a port.Engine on Dataproc. The execution ID is the Dataproc job ID.
type Engine struct {
	api API
	cfg Config

	mu    sync.Mutex
	names map[string]string
}

var _ port.Engine = (*Engine)(nil)

// NewEngine creates an Engine with a Dataproc service client.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Project == "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "must provide a GCP project")
	}
	if cfg.Cluster == "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "must provide a Dataproc cluster name")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := dp.NewService(ctx, opts...)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to create dataproc client", err)
	}
	return NewEngineWithAPI(&serviceAPI{svc: svc}, cfg), nil
}

// NewEngineWithAPI wraps an existing API.
func NewEngineWithAPI(api API, cfg Config) *Engine {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	return &Engine{api: api, cfg: cfg, names: make(map[string]string)}
}

// JobID derives a Dataproc job ID from the run's key; IDs only allow letters,
// digits, "_" and "-".
func JobID(jobKey string) string {
	id := invalidJobIDChars.ReplaceAllString(jobKey, "_")
	if len(id) > 100 {
		id = id[:100]
	}
	return id
}

// Submit submits a HiveJob to the configured cluster.
func (e *Engine) Submit(ctx context.Context, sub port.Submission) (string, error) {
	job := &dp.Job{
		Placement: &dp.JobPlacement{ClusterName: e.cfg.Cluster},
		Reference: &dp.JobReference{ProjectId: e.cfg.Project, JobId: JobID(sub.JobKey)},
		HiveJob: &dp.HiveJob{
			QueryFileUri: sub.ScriptURI,
			JarFileUris:  sub.JarURIs,
		},
	}
	created, err := e.api.SubmitJob(ctx, e.cfg.Project, e.cfg.Region, job)
	if err != nil {
		return "", exception.NewExecutionFailure(moduleName, "failed to submit hive job", "", err.Error(), err)
	}
	id := job.Reference.JobId
	if created != nil && created.Reference != nil && created.Reference.JobId != "" {
		id = created.Reference.JobId
	}

	e.mu.Lock()
	e.names[id] = sub.JobName
	e.mu.Unlock()

	logger.Infof("Submitted hive job %s to cluster %s", id, e.cfg.Cluster)
	return id, nil
}

// Describe returns the job's state and details.
func (e *Engine) Describe(ctx context.Context, executionID string) (port.ExecutionStatus, error) {
	job, err := e.api.GetJob(ctx, e.cfg.Project, e.cfg.Region, executionID)
	if err != nil {
		return port.ExecutionStatus{}, fmt.Errorf("dataproc: get job %s: %w", executionID, err)
	}
	if job.Status == nil {
		return port.ExecutionStatus{State: StatePending}, nil
	}
	return port.ExecutionStatus{State: job.Status.State, Reason: job.Status.Details}, nil
}

// ListSteps reports the job as a single step named after the submitted job.
func (e *Engine) ListSteps(ctx context.Context, executionID string) ([]port.Step, error) {
	job, err := e.api.GetJob(ctx, e.cfg.Project, e.cfg.Region, executionID)
	if err != nil {
		return nil, fmt.Errorf("dataproc: get job %s: %w", executionID, err)
	}

	e.mu.Lock()
	name, ok := e.names[executionID]
	e.mu.Unlock()
	if !ok {
		name = executionID
	}

	step := port.Step{Name: name, Status: model.StepStatusPending}
	if job.Status != nil {
		step.Status = MapJobState(job.Status.State)
		if step.Status.IsFinished() {
			step.End = parseTime(job.Status.StateStartTime)
		}
		if step.Status.IsUnsuccessful() {
			step.Reason = job.Status.Details
		}
	}
	for _, h := range job.StatusHistory {
		if h.State == StateRunning {
			step.Start = parseTime(h.StateStartTime)
			break
		}
	}
	if step.Start == nil && job.Status != nil && job.Status.State == StateRunning {
		step.Start = parseTime(job.Status.StateStartTime)
	}
	return []port.Step{step}, nil
}

// MapJobState folds Dataproc job states into StepStatus.
func MapJobState(state string) model.StepStatus {
	switch state {
	case StateRunning, StateCancelPending, StateCancelStarted:
		return model.StepStatusRunning
	case StateDone:
		return model.StepStatusCompleted
	case StateError, StateAttemptFailure:
		return model.StepStatusFailed
	case StateCancelled:
		return model.StepStatusCancelled
	default:
		return model.StepStatusPending
	}
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
