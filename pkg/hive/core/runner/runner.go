// Package runner executes one Hive job: it stages the input and the generated script,
// submits the script to an engine, and polls the engine until the job's steps finish.
//
// A run moves through INIT, SCRIPT_STAGED, SUBMITTED and POLLING, and ends in DONE or FAILED.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/script"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "runner"

// TracerName is the instrumentation name of the runner's spans.
const TracerName = "github.com/tigerroll/apiary/pkg/hive/core/runner"

// LocalPollInterval is how often a local hive process is checked.
const LocalPollInterval = time.Second

// Store is the object store a run stages its files through.
type Store interface {
	port.ObjectStore
	Cat(ctx context.Context, dir string, w io.Writer) error
	Remove(ctx context.Context, uri string) error
}

// Runner runs one job once.
type Runner struct {
	job        model.Job
	builder    *script.Builder
	identity   model.Identity
	runnerType model.RunnerType
	opts       config.RunnerOptions
	paths      Paths

	engine    port.Engine
	store     Store
	listeners []port.RunListener
	tracer    trace.Tracer
	output    io.Writer
	now       func() time.Time

	pollInterval time.Duration
	syncWait     time.Duration

	run *model.JobRun
}

// Option customises a Runner.
type Option func(*Runner)

// WithListeners adds run listeners.
func WithListeners(listeners ...port.RunListener) Option {
	return func(r *Runner) { r.listeners = append(r.listeners, listeners...) }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithOutput sets where a local run's results are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.output = w }
}

// WithPollInterval overrides the interval between status checks.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithSyncWait overrides the wait between staging and submission of cluster runs.
func WithSyncWait(d time.Duration) Option {
	return func(r *Runner) { r.syncWait = d }
}

// WithClock sets the clock used for the job identity and elapsed times.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func newRunner(job model.Job, runnerType model.RunnerType, opts config.RunnerOptions, engine port.Engine, store Store, options []Option) (*Runner, error) {
	if engine == nil || store == nil {
		return nil, exception.NewConfigurationErrorf(moduleName, "runner %s needs an engine and an object store", runnerType)
	}
	serde, err := script.NewSerde(opts.Serde, opts.SerdeJarPath)
	if err != nil {
		return nil, err
	}
	builder, err := script.NewBuilder(job, serde)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		job:          job,
		builder:      builder,
		runnerType:   runnerType,
		opts:         opts,
		engine:       engine,
		store:        store,
		tracer:       otel.Tracer(TracerName),
		output:       os.Stdout,
		now:          time.Now,
		pollInterval: opts.PollInterval(),
		syncWait:     opts.SyncWait(),
	}
	for _, o := range options {
		o(r)
	}
	if r.pollInterval <= 0 {
		return nil, exception.NewConfigurationErrorf(moduleName, "poll interval must be positive, got %v", r.pollInterval)
	}
	r.identity = model.NewIdentity(job.Name(), opts.Label, opts.Owner, r.now())
	logger.Infof("JobID %s, started at %s", r.identity.ID, r.identity.CreatedAt.Format(time.RFC3339))
	return r, nil
}

// Identity returns the run's job ID and key.
func (r *Runner) Identity() model.Identity { return r.identity }

// Paths returns the locations the run uses.
func (r *Runner) Paths() Paths { return r.paths }

// JobRun returns the record of the last Run, or nil before Run is called.
func (r *Runner) JobRun() *model.JobRun { return r.run }

// Run executes the job and blocks until it finishes, fails, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (err error) {
	ctx, span := r.tracer.Start(ctx, "hive.run", trace.WithAttributes(
		attribute.String("job.name", r.job.Name()),
		attribute.String("job.id", r.identity.ID),
		attribute.String("job.key", r.identity.Key),
		attribute.String("runner", string(r.runnerType)),
	))
	defer span.End()

	run := model.NewJobRun(r.job.Name(), r.identity, r.runnerType)
	run.StartTime = r.identity.CreatedAt
	r.run = run
	for _, l := range r.listeners {
		l.BeforeRun(ctx, run)
	}

	defer func() {
		r.cleanup(ctx)
		if err != nil {
			run.MarkAsFailed(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, exception.ExtractErrorMessage(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("run.state", run.State.String()))
		for _, l := range r.listeners {
			l.AfterRun(ctx, run, err)
		}
	}()

	if err = r.stage(ctx, run); err != nil {
		return err
	}
	if r.paths.Cluster && r.syncWait > 0 {
		logger.Infof("Waiting %v for object store consistency", r.syncWait)
		if err = sleep(ctx, r.syncWait); err != nil {
			return exception.NewExecutionFailure(moduleName, "interrupted before submission", model.StepStatusCancelled.String(), err.Error(), err)
		}
	}
	if err = r.submit(ctx, run); err != nil {
		return err
	}
	if err = run.TransitionTo(model.RunStatePolling); err != nil {
		return err
	}

	outcome, err := r.poll(ctx, run)
	if err != nil {
		return err
	}
	run.MarkAsDone()

	logger.Infof("Job completed on cluster %s.", run.ExecutionID)
	logger.Infof("Running time was %.1f (excludes time spent waiting for the EC2 instances)", outcome.StepTime.Seconds())
	return r.deliver(ctx)
}

// stage copies the input next to the job files and writes the script where the engine reads it.
func (r *Runner) stage(ctx context.Context, run *model.JobRun) error {
	ctx, span := r.tracer.Start(ctx, "hive.stage")
	defer span.End()

	// Hive moves the data it loads, so it only ever sees a copy.
	dataPath, err := r.store.Copy(ctx, r.paths.Input, r.paths.Data)
	if err != nil {
		return exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to copy input %s to %s", r.paths.Input, r.paths.Data), err)
	}

	loc := script.Locations{DataPath: dataPath, TablePath: r.paths.Tables, OutputPath: r.paths.Output}
	var hql string
	if r.paths.Cluster {
		jarURI, err := r.builder.Serde().RemoteJarURI(ctx, r.store, r.opts.SerdeJarURI, r.paths.Scratch)
		if err != nil {
			return err
		}
		r.paths.JarURIs = []string{jarURI}
		hql = r.builder.RemoteScript(jarURI, loc)
	} else {
		hql = r.builder.LocalScript(r.builder.Serde().JarPath, loc)
	}

	if err := script.WriteScriptFile(hql, r.paths.LocalScript); err != nil {
		return err
	}
	if r.paths.Script != r.paths.LocalScript {
		if err := r.store.Upload(ctx, r.paths.LocalScript, r.paths.Script); err != nil {
			return exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to upload script to %s", r.paths.Script), err)
		}
	}
	span.SetAttributes(attribute.String("script.uri", r.paths.Script), attribute.String("data.uri", dataPath))
	return run.TransitionTo(model.RunStateScriptStaged)
}

func (r *Runner) submit(ctx context.Context, run *model.JobRun) error {
	ctx, span := r.tracer.Start(ctx, "hive.submit")
	defer span.End()

	id, err := r.engine.Submit(ctx, port.Submission{
		JobName:   r.job.Name(),
		JobKey:    r.identity.Key,
		ScriptURI: r.paths.Script,
		JarURIs:   r.paths.JarURIs,
		LogURI:    r.paths.Log,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	run.ExecutionID = id
	span.SetAttributes(attribute.String("execution.id", id))
	logger.Infof("Job started on cluster %s", id)
	return run.TransitionTo(model.RunStateSubmitted)
}

// deliver reports where the results are, and streams them for local runs.
func (r *Runner) deliver(ctx context.Context) error {
	if r.paths.Cluster {
		if dst := r.opts.ConcatenateOutput; dst != "" {
			return r.concatenate(ctx, dst)
		}
		logger.Infof("Output file is in: %s", r.paths.Output)
		return nil
	}
	if r.opts.NoOutput {
		logger.Infof("Output file is in: %s", r.paths.Output)
		return nil
	}
	logger.Infof("Query output ------->")
	if err := r.store.Cat(ctx, r.paths.Output, r.output); err != nil {
		return exception.NewExecutionFailure(moduleName, fmt.Sprintf("failed to read output from %s", r.paths.Output), r.run.State.String(), err.Error(), err)
	}
	return nil
}

// concatenate merges the output directory into dst.
func (r *Runner) concatenate(ctx context.Context, dst string) error {
	c, ok := r.store.(port.Concatenator)
	if !ok {
		return exception.NewConfigurationErrorf(moduleName, "object store cannot concatenate output")
	}
	if err := c.Concatenate(ctx, r.paths.Output, dst); err != nil {
		return exception.NewExecutionFailure(moduleName, fmt.Sprintf("failed to concatenate %s into %s", r.paths.Output, dst), r.run.State.String(), err.Error(), err)
	}
	logger.Infof("Output file is in: %s", dst)
	return nil
}

// cleanup removes a local run's scratch files. Failures are logged, never returned.
func (r *Runner) cleanup(ctx context.Context) {
	logger.Infof("cleaning up ... ")
	var targets []string
	if r.paths.Cluster {
		targets = []string{r.paths.LocalScript}
	} else if !r.opts.RetainHiveTable {
		targets = []string{r.paths.Data, r.paths.Tables, r.paths.LocalScript}
		if r.paths.OwnsOutput && !r.opts.NoOutput {
			targets = append(targets, r.paths.Output)
		}
	}

	var result *multierror.Error
	for _, t := range targets {
		if t == "" {
			continue
		}
		if err := r.store.Remove(context.WithoutCancel(ctx), t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warnf("Cleanup of job %s incomplete: %v", r.identity.ID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
