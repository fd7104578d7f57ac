package launch

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/script"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// Flag names that are not runner options.
const (
	FlagConfPath            = "conf-path"
	FlagNoVisibleToAllUsers = "no-visible-to-all-users"
	DefaultConfPathEnv      = "APIARY_CONF_PATH"
)

// legacyFlagNames maps spellings kept for older scripts to the current flag names.
var legacyFlagNames = map[string]string{
	"s3-scratch-uri":         "scratch-uri",
	"s3-log-uri":             "log-uri",
	"check-emr-status-every": "check-status-every",
	"ami-version":            "release-label",
}

// NormalizeFlagName rewrites underscores to dashes and legacy names to their current form.
func NormalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.ReplaceAll(name, "_", "-")
	if current, ok := legacyFlagNames[name]; ok {
		name = current
	}
	return pflag.NormalizedName(name)
}

// AddRunnerFlags registers the launcher flags on fs. Defaults come from
// config.DefaultRunnerOptions; only flags set on the command line override other sources.
func AddRunnerFlags(fs *pflag.FlagSet) {
	d := config.DefaultRunnerOptions()
	fs.SetNormalizeFunc(NormalizeFlagName)

	fs.StringP("runner", "r", d.Runner, "Where to run the job: local, emr or dataproc")
	fs.String(FlagConfPath, "", "Path to the YAML configuration file (default $"+DefaultConfPathEnv+")")
	fs.String("output-dir", "", "Where to put the final job output; must be a URI for cluster runners")
	fs.String("concatenate-output", "", "Merge the output of a cluster run into this single object")
	fs.String("label", "", "Custom label for the job key")
	fs.String("owner", "", "Custom owner for the job key (default: current user)")

	fs.String("aws-access-key-id", "", "AWS access key id (default $AWS_ACCESS_KEY_ID)")
	fs.String("aws-secret-access-key", "", "AWS secret access key (default $AWS_SECRET_ACCESS_KEY)")
	fs.String("aws-region", "", "AWS region for the EMR cluster")

	fs.String("log-uri", "", "Object store location for cluster logs (default <scratch-uri>logs/)")
	fs.String("scratch-uri", "", "Object store location for job files (default $APIARY_SCRATCH_URI)")
	fs.String("local-scratch-dir", "", "Local directory for temporary files (default $APIARIST_TMP_DIR or ~/.apiarist/)")
	fs.String("serde", d.Serde, "Row format of the input and output tables; only csv is supported")
	fs.String("serde-jar-path", "", "Local serde jar (default $APIARY_JARS_DIR/"+script.CSVSerdeJar+")")
	fs.String("serde-jar-uri", "", "Object store location of the CSV serde jar; uploaded to scratch when unset")

	fs.String("ec2-master-instance-type", "", "EC2 instance type of the master node (default: --ec2-instance-type)")
	fs.String("ec2-instance-type", d.EC2InstanceType, "EC2 instance type of the core nodes")
	fs.Int("num-ec2-instances", d.NumEC2Instances, "Number of EC2 instances")
	fs.String("release-label", "", "EMR release label (emr-x.y.z) or legacy AMI version")
	fs.String("hive-version", d.HiveVersion, "Hive version installed on legacy AMIs")
	fs.String("iam-instance-profile", d.IAMInstanceProfile, "IAM instance profile of the EC2 nodes")
	fs.String("iam-service-role", d.IAMServiceRole, "IAM service role of the EMR cluster")
	fs.Bool("visible-to-all-users", d.VisibleToAllUsers, "Make the cluster visible to all IAM users")
	fs.Bool(FlagNoVisibleToAllUsers, false, "Make the cluster visible only to its creator")

	fs.Int("s3-sync-wait-time", d.S3SyncWaitTime, "Seconds to wait for object store consistency before submitting")
	fs.Int("check-status-every", d.CheckStatusEvery, "Seconds between status checks")

	fs.Bool("no-output", false, "Do not print the job output")
	fs.BoolP("quiet", "q", false, "Silence all log output")
	fs.BoolP("verbose", "v", false, "Log at DEBUG level")
	fs.Bool("retain-hive-table", false, "Keep the local hive table files")

	fs.String("gcp-project", "", "GCP project of the Dataproc cluster (default $GOOGLE_CLOUD_PROJECT)")
	fs.String("gcp-region", "", "GCP region of the Dataproc cluster")
	fs.String("dataproc-cluster", "", "Name of an existing Dataproc cluster")
	fs.String("gcp-credentials-file", "", "Service account key for Dataproc and GCS")

	fs.String("hive-binary", d.HiveBinary, "Hive executable used by the local runner")
}

// ChangedRunnerOptions returns the runner options set explicitly on fs, keyed by
// their yaml names. Job pass-through flags and --conf-path are skipped.
func ChangedRunnerOptions(fs *pflag.FlagSet) map[string]interface{} {
	known := runnerOptionKeys()
	props := make(map[string]interface{})
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == FlagNoVisibleToAllUsers {
			if f.Value.String() == "true" {
				props["visible_to_all_users"] = false
			}
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := known[key]; ok {
			props[key] = f.Value.String()
		}
	})
	return props
}

// ResolveRunnerOptions builds the options of one run. The runners.<runner> section of cfg
// overrides the defaults, and flags set on the command line override both.
func ResolveRunnerOptions(cfg *config.Config, fs *pflag.FlagSet) (config.RunnerOptions, error) {
	runnerName, err := fs.GetString("runner")
	if err != nil {
		return config.RunnerOptions{}, exception.NewConfigurationError(moduleName, "runner flag is not registered", err)
	}
	opts, err := cfg.RunnerOptionsFor(strings.ToLower(runnerName))
	if err != nil {
		return opts, err
	}
	if err := config.BindProperties(ChangedRunnerOptions(fs), &opts); err != nil {
		return opts, exception.NewConfigurationError(moduleName, "invalid command line options", err)
	}
	opts.Runner = strings.ToLower(runnerName)
	return opts, nil
}

// runnerOptionKeys lists the yaml keys of config.RunnerOptions.
func runnerOptionKeys() map[string]struct{} {
	props := make(map[string]interface{})
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "yaml", Result: &props})
	if err == nil {
		_ = decoder.Decode(config.DefaultRunnerOptions())
	}
	keys := make(map[string]struct{}, len(props))
	for k := range props {
		keys[k] = struct{}{}
	}
	return keys
}
