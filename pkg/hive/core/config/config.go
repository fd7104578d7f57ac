// Package config holds the application configuration and the per-runner options
// consumed by the runner factory.
package config

import (
	"time"
)

// Config is the root of the YAML configuration file.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	// Runners holds free-form option maps keyed by runner name ("local", "emr", "dataproc").
	// Keys are the CLI flag names with "_" instead of "-".
	Runners map[string]map[string]interface{} `yaml:"runners"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR.
	Format string `yaml:"format"` // "text" or "json".
}

// HistoryConfig selects where run history is kept.
type HistoryConfig struct {
	Type     string `yaml:"type"` // none, memory, sqlite, postgres, mysql.
	DSN      string `yaml:"dsn"`  // Used as is when set.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter    string `yaml:"exporter"` // none, otlp-http, otlp-grpc.
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig controls the Prometheus textfile dump written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		System: SystemConfig{
			Logging: LoggingConfig{Level: "INFO", Format: "text"},
		},
		History:   HistoryConfig{Type: "none"},
		Telemetry: TelemetryConfig{Exporter: "none", ServiceName: "apiary"},
		Runners:   make(map[string]map[string]interface{}),
	}
}

// Default runner option values.
const (
	DefaultRunner             = "local"
	DefaultInstanceType       = "m3.xlarge"
	DefaultNumInstances       = 2
	DefaultHiveVersion        = "latest"
	DefaultInstanceProfile    = "EMR_EC2_DefaultRole"
	DefaultServiceRole        = "EMR_DefaultRole"
	DefaultSyncWaitSeconds    = 5
	DefaultCheckStatusSeconds = 30
	DefaultHiveBinary         = "hive"
	DefaultSerde              = "csv"
)

// RunnerOptions are the resolved settings of one run.
type RunnerOptions struct {
	Runner    string `yaml:"runner"`
	Label     string `yaml:"label"`
	Owner     string `yaml:"owner"`
	OutputDir string `yaml:"output_dir"`

	// ConcatenateOutput merges a cluster run's output files into this one object.
	ConcatenateOutput string `yaml:"concatenate_output"`

	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSRegion          string `yaml:"aws_region"`

	LogURI          string `yaml:"log_uri"`
	ScratchURI      string `yaml:"scratch_uri"`
	LocalScratchDir string `yaml:"local_scratch_dir"`
	Serde           string `yaml:"serde"`
	SerdeJarPath    string `yaml:"serde_jar_path"`
	SerdeJarURI     string `yaml:"serde_jar_uri"`

	EC2MasterInstanceType string `yaml:"ec2_master_instance_type"`
	EC2InstanceType       string `yaml:"ec2_instance_type"`
	NumEC2Instances       int    `yaml:"num_ec2_instances"`
	ReleaseLabel          string `yaml:"release_label"`
	HiveVersion           string `yaml:"hive_version"`
	IAMInstanceProfile    string `yaml:"iam_instance_profile"`
	IAMServiceRole        string `yaml:"iam_service_role"`
	VisibleToAllUsers     bool   `yaml:"visible_to_all_users"`

	S3SyncWaitTime   int `yaml:"s3_sync_wait_time"`  // seconds
	CheckStatusEvery int `yaml:"check_status_every"` // seconds

	NoOutput        bool `yaml:"no_output"`
	Quiet           bool `yaml:"quiet"`
	Verbose         bool `yaml:"verbose"`
	RetainHiveTable bool `yaml:"retain_hive_table"`

	GCPProject         string `yaml:"gcp_project"`
	GCPRegion          string `yaml:"gcp_region"`
	DataprocCluster    string `yaml:"dataproc_cluster"`
	GCPCredentialsFile string `yaml:"gcp_credentials_file"`

	HiveBinary string `yaml:"hive_binary"`
}

// DefaultRunnerOptions returns the options used when nothing else is configured.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		Runner:             DefaultRunner,
		EC2InstanceType:    DefaultInstanceType,
		NumEC2Instances:    DefaultNumInstances,
		HiveVersion:        DefaultHiveVersion,
		IAMInstanceProfile: DefaultInstanceProfile,
		IAMServiceRole:     DefaultServiceRole,
		VisibleToAllUsers:  true,
		S3SyncWaitTime:     DefaultSyncWaitSeconds,
		CheckStatusEvery:   DefaultCheckStatusSeconds,
		HiveBinary:         DefaultHiveBinary,
		Serde:              DefaultSerde,
	}
}

// MasterInstanceType returns the master instance type, defaulting to the instance type.
func (o RunnerOptions) MasterInstanceType() string {
	if o.EC2MasterInstanceType != "" {
		return o.EC2MasterInstanceType
	}
	return o.EC2InstanceType
}

// SyncWait is how long to wait for object-store consistency before submitting.
func (o RunnerOptions) SyncWait() time.Duration {
	return time.Duration(o.S3SyncWaitTime) * time.Second
}

// PollInterval is the time between two status checks.
func (o RunnerOptions) PollInterval() time.Duration {
	if o.CheckStatusEvery <= 0 {
		return DefaultCheckStatusSeconds * time.Second
	}
	return time.Duration(o.CheckStatusEvery) * time.Second
}

// LogLevel maps --verbose to DEBUG and everything else to INFO.
func (o RunnerOptions) LogLevel() string {
	if o.Verbose {
		return "DEBUG"
	}
	return "INFO"
}
