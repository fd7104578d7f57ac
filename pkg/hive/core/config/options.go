package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// Environment variables consulted when an option is not set explicitly.
const (
	EnvAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvScratchURI         = "APIARY_SCRATCH_URI"
	EnvLegacyScratchURI   = "S3_SCRATCH_URI"
	EnvLocalTmpDir        = "APIARIST_TMP_DIR"
	EnvGCPProject         = "GOOGLE_CLOUD_PROJECT"
)

// DefaultLocalScratchDir is used when neither the option nor APIARIST_TMP_DIR is set.
const DefaultLocalScratchDir = "~/.apiarist/"

// BindProperties decodes properties into target using yaml tags.
// Strings are converted to numbers and booleans where the target needs them.
//
// Parameters:
//
//	properties: The map of properties to bind.
//	target: A pointer to the struct to bind into. Fields absent from properties are left as they are.
//
// Returns:
//
//	An error if decoding fails.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}
	return nil
}

// RunnerOptionsFor returns the defaults overlaid with the runners.<runner> section of cfg.
func (c *Config) RunnerOptionsFor(runner string) (RunnerOptions, error) {
	opts := DefaultRunnerOptions()
	if section, ok := c.Runners[runner]; ok && section != nil {
		if err := BindProperties(section, &opts); err != nil {
			return opts, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid options for runner '%s'", runner), err)
		}
	}
	opts.Runner = runner
	return opts, nil
}

// resolve returns explicit, or the first set environment variable of envs.
func resolve(explicit string, envs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// ResolveAWSCredentials returns the key pair from opts, then from the environment.
func ResolveAWSCredentials(opts RunnerOptions) (string, string, error) {
	id := resolve(opts.AWSAccessKeyID, EnvAWSAccessKeyID)
	if id == "" {
		return "", "", exception.NewConfigurationErrorf(moduleName, "must provide AWS access key ID (--aws-access-key-id or %s)", EnvAWSAccessKeyID)
	}
	secret := resolve(opts.AWSSecretAccessKey, EnvAWSSecretAccessKey)
	if secret == "" {
		return "", "", exception.NewConfigurationErrorf(moduleName, "must provide AWS secret access key (--aws-secret-access-key or %s)", EnvAWSSecretAccessKey)
	}
	return id, secret, nil
}

// ResolveScratchURI returns the object store scratch location, always ending in "/".
func ResolveScratchURI(opts RunnerOptions) (string, error) {
	uri := resolve(opts.ScratchURI, EnvScratchURI, EnvLegacyScratchURI)
	if uri == "" {
		return "", exception.NewConfigurationErrorf(moduleName, "must provide a scratch URI (--scratch-uri or %s)", EnvScratchURI)
	}
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri, nil
}

// ResolveLocalScratchDir returns the local temp dir, falling back to ~/.apiarist/.
// The result always ends in a path separator.
func ResolveLocalScratchDir(opts RunnerOptions) (string, error) {
	dir := resolve(opts.LocalScratchDir, EnvLocalTmpDir)
	if dir == "" {
		dir = DefaultLocalScratchDir
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to expand '%s'", dir), err)
	}
	if !strings.HasSuffix(expanded, "/") && !strings.HasSuffix(expanded, string(os.PathSeparator)) {
		expanded += string(os.PathSeparator)
	}
	return expanded, nil
}

// ResolveGCPProject returns the project from opts, then GOOGLE_CLOUD_PROJECT.
func ResolveGCPProject(opts RunnerOptions) (string, error) {
	project := resolve(opts.GCPProject, EnvGCPProject)
	if project == "" {
		return "", exception.NewConfigurationErrorf(moduleName, "must provide a GCP project (--gcp-project or %s)", EnvGCPProject)
	}
	return project, nil
}
