package logger

import "go.uber.org/fx"

// Module routes fx's own events through this package.
var Module = fx.WithLogger(NewFxEventLogger)
