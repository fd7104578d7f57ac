// Package port defines the interfaces the runner depends on: the execution engine
// that runs a script, the object store that stages files, and run listeners.
package port

import (
	"context"
	"time"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
)

// Submission is everything an engine needs to launch one job run.
type Submission struct {
	// JobName becomes the prefix of every step the engine creates for this run.
	JobName string
	// JobKey is a human-readable run name (cluster name, job label).
	JobKey string
	// ScriptURI is where the engine reads the script from (local path or object store URI).
	ScriptURI string
	// JarURIs are additional jars the engine must make available to Hive.
	JarURIs []string
	// LogURI is an optional location for engine logs.
	LogURI string
}

// Step is one remote step as reported by an engine.
type Step struct {
	Name   string
	Status model.StepStatus
	Start  *time.Time
	End    *time.Time
	// Reason is the failure or state-change message reported for this step, if any.
	Reason string
}

// Duration returns End-Start, or zero if either timestamp is missing.
func (s Step) Duration() time.Duration {
	if s.Start == nil || s.End == nil {
		return 0
	}
	return s.End.Sub(*s.Start)
}

// ExecutionStatus is the overall state of an execution (a cluster, a process).
type ExecutionStatus struct {
	State  string
	Reason string
}

// Engine runs a submitted script and reports the state of its steps.
type Engine interface {
	// Submit launches the script and returns the execution ID.
	Submit(ctx context.Context, sub Submission) (string, error)
	// Describe returns the overall state of an execution.
	Describe(ctx context.Context, executionID string) (ExecutionStatus, error)
	// ListSteps returns every step of an execution, including steps of other jobs.
	ListSteps(ctx context.Context, executionID string) ([]Step, error)
}

// ObjectStore moves files in and out of the storage an engine reads from.
type ObjectStore interface {
	// Copy copies src to dst. When src is a directory every non-empty object under it
	// is copied to dst+index and the returned location is dst+"/".
	Copy(ctx context.Context, src, dst string) (string, error)
	// Upload writes a local file to dst.
	Upload(ctx context.Context, localPath, dst string) error
	// IsDirectory reports whether uri names a directory (trailing "/").
	IsDirectory(uri string) bool
	// ParseURI splits uri into bucket and key.
	ParseURI(uri string) (bucket, key string, err error)
}

// Concatenator is implemented by stores that can merge every object under a prefix into one.
type Concatenator interface {
	Concatenate(ctx context.Context, srcDir, dst string) error
}

// RunListener observes the lifecycle of a job run.
type RunListener interface {
	BeforeRun(ctx context.Context, run *model.JobRun)
	OnPoll(ctx context.Context, run *model.JobRun, steps []Step)
	AfterRun(ctx context.Context, run *model.JobRun, err error)
}
