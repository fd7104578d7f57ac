package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.System.Logging
}

// NewHistoryConfigProvider extracts *HistoryConfig from *Config.
func NewHistoryConfigProvider(cfg *Config) *HistoryConfig {
	return &cfg.History
}

// NewTelemetryConfigProvider extracts *TelemetryConfig from *Config.
func NewTelemetryConfigProvider(cfg *Config) *TelemetryConfig {
	return &cfg.Telemetry
}

// Module provides the configuration sections to Fx. *Config itself is supplied by the caller.
var Module = fx.Options(
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewHistoryConfigProvider),
	fx.Provide(NewTelemetryConfigProvider),
)
