package dataproc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	dataproc "google.golang.org/api/dataproc/v1"

	engine "github.com/tigerroll/apiary/pkg/hive/adapter/engine/dataproc"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) SubmitJob(ctx context.Context, project, region string, job *dataproc.Job) (*dataproc.Job, error) {
	args := m.Called(project, region, job)
	out, _ := args.Get(0).(*dataproc.Job)
	return out, args.Error(1)
}

func (m *mockAPI) GetJob(ctx context.Context, project, region, jobID string) (*dataproc.Job, error) {
	args := m.Called(project, region, jobID)
	out, _ := args.Get(0).(*dataproc.Job)
	return out, args.Error(1)
}

var cfg = engine.Config{Project: "acme", Region: "europe-west1", Cluster: "hive-cluster"}

var sub = port.Submission{
	JobName:   "EmailsByDate",
	JobKey:    "EmailsByDate.alice.20240102.030405.000006",
	ScriptURI: "gs://scratch/hj-1/script.hql",
	JarURIs:   []string{"gs://scratch/jars/csv-serde.jar"},
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "EmailsByDate_alice_20240102_030405_000006", engine.JobID(sub.JobKey))
	assert.Len(t, engine.JobID(string(make([]byte, 150))), 100)
}

func TestSubmit(t *testing.T) {
	api := &mockAPI{}
	api.On("SubmitJob", "acme", "europe-west1", mock.MatchedBy(func(j *dataproc.Job) bool {
		return j.Placement.ClusterName == "hive-cluster" &&
			j.Reference.JobId == "EmailsByDate_alice_20240102_030405_000006" &&
			j.HiveJob.QueryFileUri == sub.ScriptURI &&
			assert.ObjectsAreEqual(sub.JarURIs, j.HiveJob.JarFileUris)
	})).Return(&dataproc.Job{Reference: &dataproc.JobReference{JobId: "EmailsByDate_alice_20240102_030405_000006"}}, nil).Once()

	id, err := engine.NewEngineWithAPI(api, cfg).Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "EmailsByDate_alice_20240102_030405_000006", id)
	api.AssertExpectations(t)
}

func TestSubmit_Error(t *testing.T) {
	api := &mockAPI{}
	api.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("cluster not found")).Once()

	_, err := engine.NewEngineWithAPI(api, cfg).Submit(context.Background(), sub)
	assert.True(t, errors.Is(err, exception.ErrExecutionFailure))
}

func TestListSteps_Done(t *testing.T) {
	api := &mockAPI{}
	e := engine.NewEngineWithAPI(api, cfg)
	api.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return(&dataproc.Job{}, nil).Once()
	id, err := e.Submit(context.Background(), sub)
	require.NoError(t, err)

	api.On("GetJob", "acme", "europe-west1", id).Return(&dataproc.Job{
		Status: &dataproc.JobStatus{State: "DONE", StateStartTime: "2024-01-02T03:06:05Z"},
		StatusHistory: []*dataproc.JobStatus{
			{State: "PENDING", StateStartTime: "2024-01-02T03:04:00Z"},
			{State: "RUNNING", StateStartTime: "2024-01-02T03:04:05Z"},
		},
	}, nil)

	steps, err := e.ListSteps(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "EmailsByDate", steps[0].Name)
	assert.Equal(t, model.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, 2*time.Minute, steps[0].Duration())

	status, err := e.Describe(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "DONE", status.State)
}

func TestListSteps_ErrorCarriesDetails(t *testing.T) {
	api := &mockAPI{}
	api.On("GetJob", "acme", "europe-west1", "job-x").Return(&dataproc.Job{
		Status: &dataproc.JobStatus{State: "ERROR", Details: "Query failed: table not found"},
	}, nil)

	steps, err := engine.NewEngineWithAPI(api, cfg).ListSteps(context.Background(), "job-x")
	require.NoError(t, err)
	assert.Equal(t, "job-x", steps[0].Name)
	assert.Equal(t, model.StepStatusFailed, steps[0].Status)
	assert.Equal(t, "Query failed: table not found", steps[0].Reason)
}

func TestMapJobState(t *testing.T) {
	cases := map[string]model.StepStatus{
		"PENDING":         model.StepStatusPending,
		"SETUP_DONE":      model.StepStatusPending,
		"RUNNING":         model.StepStatusRunning,
		"CANCEL_PENDING":  model.StepStatusRunning,
		"DONE":            model.StepStatusCompleted,
		"ERROR":           model.StepStatusFailed,
		"ATTEMPT_FAILURE": model.StepStatusFailed,
		"CANCELLED":       model.StepStatusCancelled,
	}
	for in, want := range cases {
		assert.Equal(t, want, engine.MapJobState(in), in)
	}
}

func TestNewEngine_RequiresProjectAndCluster(t *testing.T) {
	_, err := engine.NewEngine(context.Background(), engine.Config{Cluster: "c"})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
	_, err = engine.NewEngine(context.Background(), engine.Config{Project: "p"})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}
