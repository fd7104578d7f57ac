package logger_test

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxevent"

	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})
	return buf
}

func TestSetLogLevel_FiltersMessages(t *testing.T) {
	buf := captureOutput(t)

	logger.SetLogLevel("WARN")
	assert.Equal(t, logger.LevelWarn, logger.GetLogLevel())
	logger.Infof("hidden %d", 1)
	logger.Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestSetLogLevel_UnknownDefaultsToInfo(t *testing.T) {
	buf := captureOutput(t)

	logger.SetLogLevel("chatty")
	assert.Equal(t, logger.LevelInfo, logger.GetLogLevel())
	assert.Contains(t, buf.String(), "Unknown log level 'chatty'")
}

func TestSetLogLevel_Debug(t *testing.T) {
	buf := captureOutput(t)

	logger.SetLogLevel("debug")
	logger.Debugf("polling %s", "j-123")
	assert.Contains(t, buf.String(), "polling j-123")
}

func TestSilence(t *testing.T) {
	buf := captureOutput(t)
	logger.Silence()
	logger.Errorf("nobody hears this")
	assert.Empty(t, buf.String())
}

func TestFxEventLogger_LogsFailures(t *testing.T) {
	buf := captureOutput(t)

	events := logger.NewFxEventLogger()
	events.LogEvent(&fxevent.Invoked{FunctionName: "main.run", Err: errors.New("boom")})
	events.LogEvent(&fxevent.Started{})
	events.LogEvent(&fxevent.OnStopExecuted{FunctionName: "launch.newHistory.func1", Err: errors.New("closed")})

	out := buf.String()
	assert.Contains(t, out, "*fxevent.Invoked: boom")
	assert.Contains(t, out, "stop hook launch.newHistory failed: closed")
}
