// Package logger provides the logging utility shared by every apiary package.
// It exposes a small package-level API backed by a logrus logger so that call sites
// never need to carry a logger instance around.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

var std = newStandardLogger()

func newStandardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogLevel sets the global log level.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An unknown value falls back to INFO and emits a warning.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		std.SetLevel(logrus.DebugLevel)
	case "INFO":
		std.SetLevel(logrus.InfoLevel)
	case "WARN":
		std.SetLevel(logrus.WarnLevel)
	case "ERROR":
		std.SetLevel(logrus.ErrorLevel)
	case "FATAL":
		std.SetLevel(logrus.FatalLevel)
	default:
		std.SetLevel(logrus.InfoLevel)
		std.Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
}

// GetLogLevel returns the currently active level.
func GetLogLevel() LogLevel {
	switch std.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel:
		return LevelError
	default:
		return LevelFatal
	}
}

// SetFormat switches between the "text" (default) and "json" formatters.
func SetFormat(format string) {
	if strings.EqualFold(format, "json") {
		std.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
}

// SetOutput redirects log output. Mostly useful in tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Silence discards all log output. Used by the launcher's --quiet flag.
func Silence() {
	std.SetOutput(io.Discard)
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	std.Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	std.Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	std.Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	std.Errorf(format, v...)
}
