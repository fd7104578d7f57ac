package launch

import (
	"context"
	"io"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/repository"
	coremetrics "github.com/tigerroll/apiary/pkg/hive/core/metrics"
	"github.com/tigerroll/apiary/pkg/hive/core/runner"
	"github.com/tigerroll/apiary/pkg/hive/infrastructure/metrics"
	historygorm "github.com/tigerroll/apiary/pkg/hive/infrastructure/repository/gorm"
	"github.com/tigerroll/apiary/pkg/hive/infrastructure/repository/inmemory"
	"github.com/tigerroll/apiary/pkg/hive/infrastructure/telemetry"
	historylistener "github.com/tigerroll/apiary/pkg/hive/listener/history"
	logginglistener "github.com/tigerroll/apiary/pkg/hive/listener/logging"
	metricslistener "github.com/tigerroll/apiary/pkg/hive/listener/metrics"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// stopTimeout bounds the flush of traces, metrics and history after a run.
const stopTimeout = 15 * time.Second

// Request is one job run to launch.
type Request struct {
	Job     model.Job
	Input   string
	Options config.RunnerOptions
	// Output receives a local run's results. Nil means stdout.
	Output io.Writer
}

// Launcher runs jobs with the listeners and tracer assembled by Module.
type Launcher struct {
	factory   Factory
	telemetry *telemetry.Provider
	recorder  coremetrics.MetricRecorder
	listeners []port.RunListener
}

// NewLauncher creates a Launcher.
func NewLauncher(factory Factory, provider *telemetry.Provider, recorder coremetrics.MetricRecorder, listeners []port.RunListener) *Launcher {
	return &Launcher{factory: factory, telemetry: provider, recorder: recorder, listeners: listeners}
}

// Launch builds the runner for req and runs it to completion.
func (l *Launcher) Launch(ctx context.Context, req Request) error {
	options := []runner.Option{
		runner.WithListeners(l.listeners...),
		runner.WithTracer(l.telemetry.Tracer(runner.TracerName)),
	}
	if req.Output != nil {
		options = append(options, runner.WithOutput(req.Output))
	}
	started := time.Now()
	r, store, err := l.factory.NewRunner(ctx, req.Job, req.Input, req.Options, options...)
	if err != nil {
		return err
	}
	l.recorder.RecordDuration(ctx, "prepare", time.Since(started), nil)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close object store clients: %v", err)
		}
	}()
	return r.Run(ctx)
}

func newTracerProvider(lc fx.Lifecycle, cfg *config.TelemetryConfig) (*telemetry.Provider, error) {
	p, err := telemetry.NewProvider(context.Background(), *cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: p.Shutdown})
	return p, nil
}

func newRecorder(lc fx.Lifecycle, cfg *config.Config) *metrics.PrometheusRecorder {
	r := metrics.NewPrometheusRecorder()
	if path := cfg.Metrics.Textfile; path != "" {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			logger.Debugf("Writing metrics to %s", path)
			return r.WriteToTextfile(path)
		}})
	}
	return r
}

// OpenHistory opens the run history selected by cfg.Type. It returns nil when history is off.
func OpenHistory(ctx context.Context, cfg config.HistoryConfig, logging config.LoggingConfig) (repository.JobRunRepository, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return inmemory.NewJobRunRepository(), nil
	default:
		gormLevel := "ERROR"
		if logging.Level == "DEBUG" {
			gormLevel = "INFO"
		}
		return historygorm.Open(ctx, cfg, gormLevel)
	}
}

func newHistory(lc fx.Lifecycle, cfg *config.HistoryConfig, logging *config.LoggingConfig) (repository.JobRunRepository, error) {
	repo, err := OpenHistory(context.Background(), *cfg, *logging)
	if err != nil || repo == nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return repo.Close() }})
	return repo, nil
}

func newListeners(recorder coremetrics.MetricRecorder, repo repository.JobRunRepository) []port.RunListener {
	listeners := []port.RunListener{
		logginglistener.NewLoggingRunListener(),
		metricslistener.NewMetricsRunListener(recorder),
	}
	if repo != nil {
		listeners = append(listeners, historylistener.NewHistoryRunListener(repo))
	}
	return listeners
}

// Module provides the Launcher and its observability stack. *config.Config and
// Factory are supplied by the caller.
var Module = fx.Options(
	fx.Provide(newTracerProvider),
	fx.Provide(newRecorder),
	fx.Provide(func(r *metrics.PrometheusRecorder) coremetrics.MetricRecorder { return r }),
	fx.Provide(newHistory),
	fx.Provide(newListeners),
	fx.Provide(NewLauncher),
)

// ConfigureLogging applies the logging section, then --verbose and --quiet.
func ConfigureLogging(cfg config.LoggingConfig, opts config.RunnerOptions) {
	logger.SetFormat(cfg.Format)
	level := cfg.Level
	if opts.Verbose {
		level = opts.LogLevel()
	}
	logger.SetLogLevel(level)
	if opts.Quiet {
		logger.Silence()
	}
}

// Run assembles the application, launches req, and stops the application again.
// The run's error is returned; errors while stopping are only logged.
func Run(ctx context.Context, cfg *config.Config, factory Factory, req Request) error {
	var launcher *Launcher
	app := fx.New(
		fx.Supply(cfg, factory),
		logger.Module,
		config.Module,
		Module,
		fx.Populate(&launcher),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := launcher.Launch(ctx, req)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Warnf("Application did not stop cleanly: %v", err)
	}
	return runErr
}
