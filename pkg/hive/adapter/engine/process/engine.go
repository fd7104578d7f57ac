// Package process runs Hive scripts with a local hive binary and reports each
// invocation as a single step named after the job.
package process

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "process"

// DefaultBinary is the hive executable looked up on PATH.
const DefaultBinary = "hive"

// Execution states reported by Describe.
const (
	StateRunning              = "RUNNING"
	StateTerminated           = "TERMINATED"
	StateTerminatedWithErrors = "TERMINATED_WITH_ERRORS"
)

type execution struct {
	mu     sync.Mutex
	name   string
	status model.StepStatus
	start  *time.Time
	end    *time.Time
	reason string
}

func (e *execution) snapshot() port.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return port.Step{Name: e.name, Status: e.status, Start: e.start, End: e.end, Reason: e.reason}
}

// Engine is a port.Engine backed by child processes.
type Engine struct {
	binary    string
	extraArgs []string

	mu         sync.Mutex
	seq        int
	executions map[string]*execution
}

var _ port.Engine = (*Engine)(nil)

// NewEngine creates an Engine that runs "<binary> <extraArgs...> -f <script>".
func NewEngine(binary string, extraArgs ...string) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Engine{binary: binary, extraArgs: extraArgs, executions: make(map[string]*execution)}
}

// Submit starts the hive process and returns immediately.
// The process is bound to ctx and is killed if ctx is cancelled.
func (e *Engine) Submit(ctx context.Context, sub port.Submission) (string, error) {
	args := append(append([]string{}, e.extraArgs...), "-f", sub.ScriptURI)
	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Infof("Running HIVE script with: %s %s", e.binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return "", exception.NewExecutionFailure(moduleName, fmt.Sprintf("failed to start %s", e.binary), StateTerminatedWithErrors, err.Error(), err)
	}

	now := time.Now()
	exe := &execution{name: sub.JobName, status: model.StepStatusRunning, start: &now}

	e.mu.Lock()
	e.seq++
	id := fmt.Sprintf("local-%d-%d", cmd.Process.Pid, e.seq)
	e.executions[id] = exe
	e.mu.Unlock()

	go func() {
		err := cmd.Wait()
		end := time.Now()

		exe.mu.Lock()
		exe.end = &end
		switch {
		case err == nil:
			exe.status = model.StepStatusCompleted
		case ctx.Err() != nil:
			exe.status = model.StepStatusCancelled
			exe.reason = ctx.Err().Error()
		default:
			exe.status = model.StepStatusFailed
			exe.reason = failureReason(err, stderr.String())
		}
		exe.mu.Unlock()

		if out := strings.TrimSpace(stdout.String()); out != "" {
			logger.Debugf("hive stdout (%s):\n%s", id, out)
		}
		// A cancelled run is not polled again.
		if ctx.Err() != nil {
			e.forget(id)
		}
	}()

	return id, nil
}

// Describe maps the process state onto cluster-style states.
func (e *Engine) Describe(ctx context.Context, executionID string) (port.ExecutionStatus, error) {
	exe, err := e.lookup(executionID)
	if err != nil {
		return port.ExecutionStatus{}, err
	}
	step := exe.snapshot()
	switch step.Status {
	case model.StepStatusCompleted:
		return port.ExecutionStatus{State: StateTerminated, Reason: "Steps completed"}, nil
	case model.StepStatusFailed, model.StepStatusCancelled:
		return port.ExecutionStatus{State: StateTerminatedWithErrors, Reason: step.Reason}, nil
	default:
		return port.ExecutionStatus{State: StateRunning}, nil
	}
}

// ListSteps returns the single step of the execution. Once a finished step has
// been reported the execution is forgotten.
func (e *Engine) ListSteps(ctx context.Context, executionID string) ([]port.Step, error) {
	exe, err := e.lookup(executionID)
	if err != nil {
		return nil, err
	}
	step := exe.snapshot()
	if step.Status.IsFinished() {
		e.forget(executionID)
	}
	return []port.Step{step}, nil
}

func (e *Engine) forget(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.executions, executionID)
}

func (e *Engine) lookup(executionID string) (*execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exe, ok := e.executions[executionID]
	if !ok {
		return nil, exception.NewConfigurationErrorf(moduleName, "unknown execution %q", executionID)
	}
	return exe, nil
}

// failureReason prefers the last non-empty line hive wrote to stderr.
func failureReason(err error, stderr string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(stderr))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if last != "" {
		return last
	}
	return err.Error()
}
