package runner_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/local"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/runner"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Submit(ctx context.Context, sub port.Submission) (string, error) {
	args := m.Called(sub)
	return args.String(0), args.Error(1)
}

func (m *mockEngine) Describe(ctx context.Context, id string) (port.ExecutionStatus, error) {
	args := m.Called(id)
	return args.Get(0).(port.ExecutionStatus), args.Error(1)
}

func (m *mockEngine) ListSteps(ctx context.Context, id string) ([]port.Step, error) {
	args := m.Called(id)
	steps, _ := args.Get(0).([]port.Step)
	return steps, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Copy(ctx context.Context, src, dst string) (string, error) {
	args := m.Called(src, dst)
	return args.String(0), args.Error(1)
}
func (m *mockStore) Upload(ctx context.Context, localPath, dst string) error {
	return m.Called(localPath, dst).Error(0)
}
func (m *mockStore) IsDirectory(uri string) bool { return storageAdapter.IsDirectory(uri) }
func (m *mockStore) ParseURI(uri string) (string, string, error) {
	_, bucket, key, err := storageAdapter.ParseURI(uri)
	return bucket, key, err
}
func (m *mockStore) Cat(ctx context.Context, dir string, w io.Writer) error {
	return m.Called(dir).Error(0)
}
func (m *mockStore) Remove(ctx context.Context, uri string) error {
	return m.Called(uri).Error(0)
}

type recordingListener struct {
	events []string
	steps  int
	err    error
}

func (l *recordingListener) BeforeRun(ctx context.Context, run *model.JobRun) {
	l.events = append(l.events, "before:"+run.State.String())
}
func (l *recordingListener) OnPoll(ctx context.Context, run *model.JobRun, steps []port.Step) {
	l.events = append(l.events, "poll:"+run.State.String())
	l.steps = len(steps)
}
func (l *recordingListener) AfterRun(ctx context.Context, run *model.JobRun, err error) {
	l.events = append(l.events, "after:"+run.State.String())
	l.err = err
}

func emailsJob() *model.Definition {
	return &model.Definition{
		JobName: "EmailsByDate",
		Tbl:     "emails_sent",
		Input:   []model.Column{{Name: "day", Type: "STRING"}, {Name: "sent", Type: "BIGINT"}},
		Output:  []model.Column{{Name: "day", Type: "STRING"}, {Name: "total", Type: "BIGINT"}},
		SQL:     "SELECT day, SUM(sent) FROM emails_sent GROUP BY day",
	}
}

func step(name string, status model.StepStatus) port.Step {
	return port.Step{Name: name, Status: status}
}

var running = port.ExecutionStatus{State: "RUNNING", Reason: "Running step"}

func TestLocalRunner_RunsAndStreamsOutput(t *testing.T) {
	tmp := t.TempDir() + "/"
	t.Setenv(config.EnvLocalTmpDir, tmp)

	input := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, os.WriteFile(input, []byte("2014-01-01,3\n"), 0o644))

	store, err := local.NewStore(storageAdapter.Config{})
	require.NoError(t, err)
	engine := &mockEngine{}
	var out bytes.Buffer
	listener := &recordingListener{}

	r, err := runner.NewLocalRunner(emailsJob(), input, config.DefaultRunnerOptions(), engine, store,
		runner.WithPollInterval(5*time.Millisecond), runner.WithOutput(&out), runner.WithListeners(listener))
	require.NoError(t, err)

	paths := r.Paths()
	id := r.Identity().ID
	assert.Equal(t, tmp+id+".data", paths.Data)
	assert.Equal(t, tmp+id+"-table", paths.Tables)
	assert.Equal(t, tmp+id+".hql", paths.Script)
	assert.Equal(t, tmp+id+"-output", paths.Output)

	require.NoError(t, os.MkdirAll(paths.Output, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.Output, "000000_0"), []byte("2014-01-01,3\n"), 0o644))

	var script string
	engine.On("Submit", mock.MatchedBy(func(s port.Submission) bool {
		return s.JobName == "EmailsByDate" && s.ScriptURI == paths.Script
	})).Run(func(args mock.Arguments) {
		b, _ := os.ReadFile(paths.Script)
		script = string(b)
	}).Return("local-1", nil).Once()
	engine.On("Describe", "local-1").Return(running, nil)
	engine.On("ListSteps", "local-1").Return([]port.Step{step("EmailsByDate", model.StepStatusRunning)}, nil).Once()
	engine.On("ListSteps", "local-1").Return([]port.Step{step("EmailsByDate", model.StepStatusCompleted)}, nil).Once()

	require.NoError(t, r.Run(context.Background()))

	assert.Contains(t, script, "LOAD DATA LOCAL INPATH '"+paths.Data+"' INTO TABLE emails_sent;")
	assert.Contains(t, script, "LOCATION '"+paths.Output+"';")
	assert.Equal(t, "2014-01-01,3\n", out.String())

	run := r.JobRun()
	assert.Equal(t, model.RunStateDone, run.State)
	assert.Equal(t, 2, run.PollCount)
	assert.Equal(t, "local-1", run.ExecutionID)
	assert.Equal(t, []string{"before:INIT", "poll:POLLING", "poll:POLLING", "after:DONE"}, listener.events)

	for _, p := range []string{paths.Data, paths.Script, paths.Output} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	engine.AssertExpectations(t)
}

func TestLocalRunner_RetainHiveTableAndNoOutput(t *testing.T) {
	t.Setenv(config.EnvLocalTmpDir, t.TempDir()+"/")
	input := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, os.WriteFile(input, []byte("x\n"), 0o644))

	store, err := local.NewStore(storageAdapter.Config{})
	require.NoError(t, err)
	engine := &mockEngine{}
	engine.On("Submit", mock.Anything).Return("local-2", nil)
	engine.On("Describe", "local-2").Return(port.ExecutionStatus{State: "TERMINATED"}, nil)
	engine.On("ListSteps", "local-2").Return([]port.Step{step("EmailsByDate", model.StepStatusCompleted)}, nil)

	opts := config.DefaultRunnerOptions()
	opts.RetainHiveTable = true
	opts.NoOutput = true
	var out bytes.Buffer
	r, err := runner.NewLocalRunner(emailsJob(), input, opts, engine, store,
		runner.WithPollInterval(time.Millisecond), runner.WithOutput(&out))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, out.String())
	_, err = os.Stat(r.Paths().Data)
	assert.NoError(t, err)
	_, err = os.Stat(r.Paths().Script)
	assert.NoError(t, err)
}

func TestLocalRunner_OutputDir(t *testing.T) {
	t.Setenv(config.EnvLocalTmpDir, t.TempDir()+"/")
	outDir := t.TempDir()
	opts := config.DefaultRunnerOptions()
	opts.OutputDir = outDir

	r, err := runner.NewLocalRunner(emailsJob(), "in.csv", opts, &mockEngine{}, &mockStore{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, r.Identity().ID), r.Paths().Output)
	assert.False(t, r.Paths().OwnsOutput)
}

func TestLocalRunner_MissingInput(t *testing.T) {
	_, err := runner.NewLocalRunner(emailsJob(), "", config.DefaultRunnerOptions(), &mockEngine{}, &mockStore{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
	assert.Contains(t, err.Error(), "must provide path to source data")
}

func TestLocalRunner_SerdeOption(t *testing.T) {
	opts := config.DefaultRunnerOptions()
	opts.Serde = "json"
	_, err := runner.NewLocalRunner(emailsJob(), "in.csv", opts, &mockEngine{}, &mockStore{})
	assert.True(t, errors.Is(err, exception.ErrValidation), "got %v", err)
	assert.Contains(t, err.Error(), `unknown serde "json"`)

	opts.Serde = "CSV"
	opts.SerdeJarPath = "/opt/jars/csv-serde.jar"
	t.Setenv(config.EnvLocalTmpDir, t.TempDir()+"/")
	_, err = runner.NewLocalRunner(emailsJob(), "in.csv", opts, &mockEngine{}, &mockStore{})
	assert.NoError(t, err)
}

func clusterOptions() config.RunnerOptions {
	opts := config.DefaultRunnerOptions()
	opts.Runner = "emr"
	opts.ScratchURI = "s3://scratch/tmp/"
	opts.SerdeJarURI = "s3://jars/csv-serde.jar"
	return opts
}

func TestClusterRunner_Paths(t *testing.T) {
	tmp := t.TempDir() + "/"
	t.Setenv(config.EnvLocalTmpDir, tmp)

	r, err := runner.NewClusterRunner(emailsJob(), "s3://in/emails/", model.RunnerEMR, clusterOptions(), &mockEngine{}, &mockStore{})
	require.NoError(t, err)

	id := r.Identity().ID
	p := r.Paths()
	assert.True(t, p.Cluster)
	assert.Equal(t, "s3://scratch/tmp/logs/", p.Log)
	assert.Equal(t, "s3://scratch/tmp/"+id+"/data/", p.Data)
	assert.Equal(t, "s3://scratch/tmp/"+id+"/tables/", p.Tables)
	assert.Equal(t, "s3://scratch/tmp/"+id+"/script.hql", p.Script)
	assert.Equal(t, "s3://scratch/tmp/"+id+"/output/", p.Output)
	assert.Equal(t, tmp+id+".hql", p.LocalScript)

	opts := clusterOptions()
	opts.LogURI = "s3://logs/"
	opts.OutputDir = "s3://results/emails"
	r, err = runner.NewClusterRunner(emailsJob(), "s3://in/emails.csv", model.RunnerEMR, opts, &mockEngine{}, &mockStore{})
	require.NoError(t, err)
	assert.Equal(t, "s3://logs/", r.Paths().Log)
	assert.Equal(t, "s3://results/emails/", r.Paths().Output)
	assert.True(t, strings.HasSuffix(r.Paths().Data, "/data"))
}

func TestClusterRunner_MissingScratch(t *testing.T) {
	t.Setenv(config.EnvScratchURI, "")
	t.Setenv(config.EnvLegacyScratchURI, "")
	opts := clusterOptions()
	opts.ScratchURI = ""
	_, err := runner.NewClusterRunner(emailsJob(), "s3://in/x.csv", model.RunnerEMR, opts, &mockEngine{}, &mockStore{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func newClusterRunner(t *testing.T, engine *mockEngine, store *mockStore, options ...runner.Option) *runner.Runner {
	t.Helper()
	return newClusterRunnerFor(t, clusterOptions(), engine, store, store, options...)
}

func newClusterRunnerFor(t *testing.T, opts config.RunnerOptions, engine *mockEngine, store *mockStore, rs runner.Store, options ...runner.Option) *runner.Runner {
	t.Helper()
	t.Setenv(config.EnvLocalTmpDir, t.TempDir()+"/")
	options = append([]runner.Option{runner.WithPollInterval(2 * time.Millisecond), runner.WithSyncWait(0)}, options...)
	r, err := runner.NewClusterRunner(emailsJob(), "s3://in/emails.csv", model.RunnerEMR, opts, engine, rs, options...)
	require.NoError(t, err)

	p := r.Paths()
	store.On("Copy", "s3://in/emails.csv", p.Data).Return(p.Data, nil).Once()
	store.On("Upload", p.LocalScript, p.Script).Return(nil).Once()
	store.On("Remove", p.LocalScript).Return(nil).Once()
	return r
}

func TestClusterRunner_Success(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r := newClusterRunner(t, engine, store, runner.WithTracer(tp.Tracer("test")))

	start := time.Now().Add(-time.Minute)
	end := start.Add(45 * time.Second)
	engine.On("Submit", mock.MatchedBy(func(s port.Submission) bool {
		return s.ScriptURI == r.Paths().Script &&
			s.LogURI == "s3://scratch/tmp/logs/" &&
			s.JobKey == r.Identity().Key &&
			assert.ObjectsAreEqual([]string{"s3://jars/csv-serde.jar"}, s.JarURIs)
	})).Return("j-1", nil).Once()
	engine.On("Describe", "j-1").Return(running, nil)
	engine.On("ListSteps", "j-1").Return([]port.Step{
		step("Install Hive", model.StepStatusCompleted),
		step("EmailsByDate", model.StepStatusPending),
	}, nil).Once()
	engine.On("ListSteps", "j-1").Return([]port.Step{
		step("Install Hive", model.StepStatusCompleted),
		{Name: "EmailsByDate", Status: model.StepStatusCompleted, Start: &start, End: &end},
		{Name: "EmailsByDate-2", Status: model.StepStatusCompleted, Start: &start, End: &end},
	}, nil).Once()

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 90*time.Second, r.JobRun().StepTime)
	assert.Equal(t, "RUNNING", r.JobRun().ClusterState)
	engine.AssertExpectations(t)
	store.AssertExpectations(t)

	names := map[string]bool{}
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"hive.run", "hive.stage", "hive.submit", "hive.poll"} {
		assert.True(t, names[want], want)
	}
}

type concatStore struct {
	*mockStore
}

func (s concatStore) Concatenate(ctx context.Context, srcDir, dst string) error {
	return s.Called(srcDir, dst).Error(0)
}

func TestClusterRunner_ConcatenatesOutput(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	opts := clusterOptions()
	opts.ConcatenateOutput = "s3://results/emails.csv"
	r := newClusterRunnerFor(t, opts, engine, store, concatStore{store})

	engine.On("Submit", mock.Anything).Return("j-5", nil).Once()
	engine.On("Describe", "j-5").Return(running, nil)
	engine.On("ListSteps", "j-5").Return([]port.Step{step("EmailsByDate", model.StepStatusCompleted)}, nil).Once()
	store.On("Concatenate", r.Paths().Output, "s3://results/emails.csv").Return(nil).Once()

	require.NoError(t, r.Run(context.Background()))
	store.AssertExpectations(t)
}

func TestClusterRunner_ConcatenateNeedsSupport(t *testing.T) {
	t.Setenv(config.EnvLocalTmpDir, t.TempDir()+"/")
	opts := clusterOptions()
	opts.ConcatenateOutput = "s3://results/emails.csv"
	_, err := runner.NewClusterRunner(emailsJob(), "s3://in/x.csv", model.RunnerEMR, opts, &mockEngine{}, &mockStore{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	local := config.DefaultRunnerOptions()
	local.ConcatenateOutput = "/tmp/all.csv"
	_, err = runner.NewLocalRunner(emailsJob(), "in.csv", local, &mockEngine{}, &mockStore{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestClusterRunner_FailedStepStopsPolling(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	listener := &recordingListener{}
	r := newClusterRunner(t, engine, store, runner.WithListeners(listener))

	engine.On("Submit", mock.Anything).Return("j-2", nil).Once()
	engine.On("Describe", "j-2").Return(port.ExecutionStatus{State: "TERMINATING", Reason: "Shut down as step failed"}, nil)
	engine.On("ListSteps", "j-2").Return([]port.Step{
		step("EmailsByDate", model.StepStatusCompleted),
		{Name: "EmailsByDate", Status: model.StepStatusFailed, Reason: "hive exited 1"},
	}, nil).Once()

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrExecutionFailure))

	var je *exception.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "TERMINATING", je.Status)
	assert.Equal(t, "Shut down as step failed", je.Reason)
	assert.Contains(t, je.Message, "Job on cluster j-2 failed with status TERMINATING: Shut down as step failed")
	assert.Contains(t, err.Error(), "hive exited 1")

	engine.AssertNumberOfCalls(t, "ListSteps", 1)
	assert.Equal(t, model.RunStateFailed, r.JobRun().State)
	assert.NotEmpty(t, r.JobRun().Failures)
	assert.Equal(t, err, listener.err)
}

func TestClusterRunner_NoMatchingSteps(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	r := newClusterRunner(t, engine, store)

	engine.On("Submit", mock.Anything).Return("j-3", nil).Once()
	engine.On("Describe", "j-3").Return(running, nil)
	engine.On("ListSteps", "j-3").Return([]port.Step{step("SomeoneElsesJob", model.StepStatusRunning)}, nil).Once()

	err := r.Run(context.Background())
	assert.True(t, errors.Is(err, exception.ErrRaceCondition))
	assert.Contains(t, err.Error(), "Can't find our steps in the job flow!")
	engine.AssertNumberOfCalls(t, "ListSteps", 1)
}

func TestClusterRunner_CancelledContext(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	r := newClusterRunner(t, engine, store)

	ctx, cancel := context.WithCancel(context.Background())
	engine.On("Submit", mock.Anything).Return("j-4", nil).Once()
	engine.On("Describe", "j-4").Return(running, nil)
	engine.On("ListSteps", "j-4").Run(func(mock.Arguments) { cancel() }).
		Return([]port.Step{step("EmailsByDate", model.StepStatusRunning)}, nil)

	err := r.Run(ctx)
	require.Error(t, err)
	var je *exception.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, exception.KindExecutionFailure, je.Kind)
	assert.Equal(t, "CANCELLED", je.Status)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClusterRunner_SubmitError(t *testing.T) {
	engine, store := &mockEngine{}, &mockStore{}
	r := newClusterRunner(t, engine, store)
	engine.On("Submit", mock.Anything).Return("", exception.NewExecutionFailure("emr", "failed to start job flow", "", "denied", nil)).Once()

	err := r.Run(context.Background())
	assert.True(t, errors.Is(err, exception.ErrExecutionFailure))
	engine.AssertNotCalled(t, "ListSteps", mock.Anything)
	assert.Equal(t, model.RunStateFailed, r.JobRun().State)
}

func TestEvaluate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Second)

	out := runner.Evaluate("Job", []port.Step{
		step("Other", model.StepStatusFailed),
		{Name: "Job", Status: model.StepStatusCompleted, Start: &start, End: &end},
		{Name: "Job step 2", Status: model.StepStatusCompleted, Start: &start, End: &end},
	})
	assert.Equal(t, runner.VerdictDone, out.Verdict)
	assert.Len(t, out.Steps, 2)
	assert.Equal(t, 20*time.Second, out.StepTime)

	out = runner.Evaluate("Job", []port.Step{step("Job", model.StepStatusCompleted), step("Job", model.StepStatusRunning)})
	assert.Equal(t, runner.VerdictPending, out.Verdict)
	assert.Equal(t, "Job", out.RunningStep)

	out = runner.Evaluate("Job", []port.Step{step("Job", model.StepStatusPending)})
	assert.Equal(t, runner.VerdictPending, out.Verdict)

	out = runner.Evaluate("Job", []port.Step{step("Job", model.StepStatusCompleted), step("Job", model.StepStatusCancelled)})
	assert.Equal(t, runner.VerdictFailed, out.Verdict)
	assert.Len(t, out.Failed, 1)

	out = runner.Evaluate("Job", nil)
	assert.Equal(t, runner.VerdictNoSteps, out.Verdict)
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Job launched 61s ago. Status RUNNING: Running step (EmailsByDate)",
		runner.StatusMessage(61*time.Second, running, "EmailsByDate"))
	assert.Equal(t, "Job launched 5s ago. Status STARTING: Provisioning",
		runner.StatusMessage(5*time.Second, port.ExecutionStatus{State: "STARTING", Reason: "Provisioning"}, ""))
	assert.Equal(t, "Job launched 0s ago. Status STARTING",
		runner.StatusMessage(0, port.ExecutionStatus{State: "STARTING"}, ""))
}
