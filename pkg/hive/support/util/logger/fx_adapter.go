package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxEventLogger writes fx lifecycle events through this package. Hook progress
// is logged at DEBUG so a launcher run stays quiet unless wiring goes wrong.
type FxEventLogger struct{}

// NewFxEventLogger returns the fx event logger used by the launcher app.
func NewFxEventLogger() fxevent.Logger {
	return FxEventLogger{}
}

// LogEvent implements fxevent.Logger.
func (FxEventLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("fx: start hook %s (%s)", hookName(e.FunctionName), e.CallerName)
	case *fxevent.OnStopExecuting:
		Debugf("fx: stop hook %s (%s)", hookName(e.FunctionName), e.CallerName)
	case *fxevent.OnStartExecuted:
		logHookResult("start", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		logHookResult("stop", e.FunctionName, e.Err)
	case *fxevent.Stopping:
		Debugf("fx: stopping on %s", e.Signal)
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	default:
		if err := eventError(event); err != nil {
			Errorf("fx: %T: %v", event, err)
		}
	}
}

func logHookResult(phase, fn string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", phase, hookName(fn), err)
		return
	}
	Debugf("fx: %s hook %s done", phase, hookName(fn))
}

// eventError returns the error carried by a wiring event, if any.
func eventError(event fxevent.Event) error {
	switch e := event.(type) {
	case *fxevent.Supplied:
		return e.Err
	case *fxevent.Provided:
		return e.Err
	case *fxevent.Invoked:
		return e.Err
	case *fxevent.Started:
		return e.Err
	case *fxevent.Stopped:
		return e.Err
	}
	return nil
}

// hookName strips the ".funcN" suffix fx reports for closures.
func hookName(fn string) string {
	if i := strings.LastIndex(fn, ".func"); i != -1 {
		return fn[:i]
	}
	return fn
}
