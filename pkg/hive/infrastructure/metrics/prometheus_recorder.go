// Package metrics provides the Prometheus backend of metrics.MetricRecorder.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/metrics"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "metrics"

// PrometheusRecorder records run metrics into its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec
	runStepSeconds     *prometheus.HistogramVec

	pollCounter *prometheus.CounterVec
	stepsGauge  *prometheus.GaugeVec

	operationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with a fresh registry.
// The Go and process collectors are registered alongside the run metrics.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hive_run_duration_seconds",
			Help:    "Wall-clock duration of hive job runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"job_name", "runner", "state"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_run_status_total",
			Help: "Number of hive job runs by state.",
		}, []string{"job_name", "runner", "state"}),
		runStepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hive_run_step_seconds",
			Help:    "Summed duration of the remote steps of a run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"job_name", "runner"}),
		pollCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_poll_total",
			Help: "Number of status checks made against an engine.",
		}, []string{"job_name", "runner"}),
		stepsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hive_steps",
			Help: "Steps of the job seen in the last poll, by status.",
		}, []string{"job_name", "runner", "status"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hive_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.runDurationSeconds,
		r.runStatusCounter,
		r.runStepSeconds,
		r.pollCounter,
		r.stepsGauge,
		r.operationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart counts a run in its initial state.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.JobRun) {
	r.runStatusCounter.WithLabelValues(run.JobName, string(run.Runner), run.State.String()).Inc()
	logger.Debugf("Metrics: run %s of job '%s' started.", run.ID, run.JobName)
}

// RecordRunEnd records the final state and durations of a finished run.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.JobRun) {
	if run.EndTime == nil {
		return
	}
	runner := string(run.Runner)
	duration := run.EndTime.Sub(run.StartTime).Seconds()

	r.runStatusCounter.WithLabelValues(run.JobName, runner, run.State.String()).Inc()
	r.runDurationSeconds.WithLabelValues(run.JobName, runner, run.State.String()).Observe(duration)
	if run.StepTime > 0 {
		r.runStepSeconds.WithLabelValues(run.JobName, runner).Observe(run.StepTime.Seconds())
	}
	logger.Debugf("Metrics: run %s of job '%s' ended in %s. Duration: %.3fs", run.ID, run.JobName, run.State, duration)
}

// RecordPoll counts one poll and sets the per-status step gauge.
// Statuses missing from stepCounts are reset to zero.
func (r *PrometheusRecorder) RecordPoll(ctx context.Context, run *model.JobRun, stepCounts map[model.StepStatus]int) {
	runner := string(run.Runner)
	r.pollCounter.WithLabelValues(run.JobName, runner).Inc()
	for _, s := range model.StepStatuses() {
		r.stepsGauge.WithLabelValues(run.JobName, runner, s.String()).Set(float64(stepCounts[s]))
	}
}

// RecordDuration observes the duration of a named operation. tags are ignored.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// WriteToTextfile dumps the registry in the textfile collector format.
func (r *PrometheusRecorder) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return exception.NewConfigurationError(moduleName, "failed to write metrics to "+path, err)
	}
	return nil
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
