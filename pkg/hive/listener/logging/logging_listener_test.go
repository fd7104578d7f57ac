package logging_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/listener/logging"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

func TestLoggingRunListener(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetLogLevel("INFO")
		logger.SetOutput(os.Stderr)
	})

	run := &model.JobRun{ID: "r", JobName: "emails", ExecutionID: "j-1", PollCount: 2, State: model.RunStateFailed}
	l := logging.NewLoggingRunListener()
	l.BeforeRun(context.Background(), run)
	l.OnPoll(context.Background(), run, []port.Step{{Name: "emails", Status: model.StepStatusRunning}})
	l.AfterRun(context.Background(), run, errors.New("step failed"))

	out := buf.String()
	assert.Contains(t, out, "BeforeRun - JobName: emails")
	assert.Contains(t, out, "Step: emails, Status: RUNNING")
	assert.Contains(t, out, "Error: step failed")
}
