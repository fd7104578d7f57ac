package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const sampleYAML = `
system:
  logging:
    level: DEBUG
history:
  type: sqlite
  dsn: ${APIARY_TEST_DB}
runners:
  emr:
    ec2_instance_type: m5.xlarge
    num_ec2_instances: "4"
    check_status_every: 10
    visible_to_all_users: false
`

func TestLoadConfigBytes_DefaultsYAMLAndEnv(t *testing.T) {
	t.Setenv("APIARY_TEST_DB", "/tmp/history.db")
	t.Setenv("APIARY_TELEMETRY_EXPORTER", "otlp-http")

	cfg, err := config.LoadConfigBytes([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.System.Logging.Level)
	assert.Equal(t, "text", cfg.System.Logging.Format)
	assert.Equal(t, "sqlite", cfg.History.Type)
	assert.Equal(t, "/tmp/history.db", cfg.History.DSN)
	assert.Equal(t, "otlp-http", cfg.Telemetry.Exporter)
	assert.Equal(t, "apiary", cfg.Telemetry.ServiceName)
}

func TestLoadConfigBytes_EnvTypeError(t *testing.T) {
	t.Setenv("APIARY_HISTORY_PORT", "not-a-number")
	_, err := config.LoadConfigBytes(nil)
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apiary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  textfile: /tmp/apiary.prom\n"), 0o644))

	cfg, err := config.LoadConfig(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/apiary.prom", cfg.Metrics.Textfile)

	_, err = config.LoadConfig("", filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestRunnerOptionsFor(t *testing.T) {
	cfg, err := config.LoadConfigBytes([]byte(sampleYAML))
	require.NoError(t, err)

	emr, err := cfg.RunnerOptionsFor("emr")
	require.NoError(t, err)
	assert.Equal(t, "emr", emr.Runner)
	assert.Equal(t, "m5.xlarge", emr.EC2InstanceType)
	assert.Equal(t, "m5.xlarge", emr.MasterInstanceType())
	assert.Equal(t, 4, emr.NumEC2Instances)
	assert.Equal(t, 10*time.Second, emr.PollInterval())
	assert.False(t, emr.VisibleToAllUsers)
	assert.Equal(t, config.DefaultHiveVersion, emr.HiveVersion)

	local, err := cfg.RunnerOptionsFor("local")
	require.NoError(t, err)
	assert.Equal(t, "local", local.Runner)
	assert.Equal(t, 5*time.Second, local.SyncWait())
	assert.Equal(t, 30*time.Second, local.PollInterval())
	assert.True(t, local.VisibleToAllUsers)
}

func TestRunnerOptionsFor_Invalid(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Runners["emr"] = map[string]interface{}{"num_ec2_instances": "many"}
	_, err := cfg.RunnerOptionsFor("emr")
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestMasterInstanceType(t *testing.T) {
	opts := config.DefaultRunnerOptions()
	assert.Equal(t, "m3.xlarge", opts.MasterInstanceType())
	opts.EC2MasterInstanceType = "m1.large"
	assert.Equal(t, "m1.large", opts.MasterInstanceType())
}

func TestResolveAWSCredentials(t *testing.T) {
	t.Setenv(config.EnvAWSAccessKeyID, "env-id")
	t.Setenv(config.EnvAWSSecretAccessKey, "env-secret")

	id, secret, err := config.ResolveAWSCredentials(config.RunnerOptions{AWSAccessKeyID: "flag-id"})
	require.NoError(t, err)
	assert.Equal(t, "flag-id", id)
	assert.Equal(t, "env-secret", secret)

	t.Setenv(config.EnvAWSSecretAccessKey, "")
	_, _, err = config.ResolveAWSCredentials(config.RunnerOptions{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestResolveScratchURI(t *testing.T) {
	t.Setenv(config.EnvScratchURI, "")
	t.Setenv(config.EnvLegacyScratchURI, "s3://legacy/tmp")

	uri, err := config.ResolveScratchURI(config.RunnerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3://legacy/tmp/", uri)

	t.Setenv(config.EnvScratchURI, "s3://current/tmp/")
	uri, err = config.ResolveScratchURI(config.RunnerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3://current/tmp/", uri)

	uri, err = config.ResolveScratchURI(config.RunnerOptions{ScratchURI: "gs://flag/x"})
	require.NoError(t, err)
	assert.Equal(t, "gs://flag/x/", uri)

	t.Setenv(config.EnvScratchURI, "")
	t.Setenv(config.EnvLegacyScratchURI, "")
	_, err = config.ResolveScratchURI(config.RunnerOptions{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestResolveLocalScratchDir(t *testing.T) {
	t.Setenv(config.EnvLocalTmpDir, "/var/tmp/apiarist")
	dir, err := config.ResolveLocalScratchDir(config.RunnerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/var/tmp/apiarist/", dir)

	t.Setenv(config.EnvLocalTmpDir, "")
	t.Setenv("HOME", "/home/alice")
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	dir, err = config.ResolveLocalScratchDir(config.RunnerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/.apiarist/", dir)
}

func TestResolveGCPProject(t *testing.T) {
	t.Setenv(config.EnvGCPProject, "from-env")
	p, err := config.ResolveGCPProject(config.RunnerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", p)

	t.Setenv(config.EnvGCPProject, "")
	_, err = config.ResolveGCPProject(config.RunnerOptions{})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}
