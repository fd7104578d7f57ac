// Package emr launches Hive scripts on a fresh Amazon EMR cluster.
//
// Every run creates its own cluster that terminates once its steps are done.
// Release labels ("emr-6.15.0") install Hive as a cluster application and run the
// script through command-runner.jar. Legacy AMI versions ("3.11.0") install Hive with
// a setup step and run the script with script-runner.jar.
package emr

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsemr "github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"

	"github.com/tigerroll/apiary/pkg/hive/adapter/awsclient"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "emr"

const (
	DefaultReleaseLabel      = "emr-6.15.0"
	DefaultInstanceType      = "m3.xlarge"
	DefaultInstanceCount     = 2
	DefaultJobFlowRole       = "EMR_EC2_DefaultRole"
	DefaultServiceRole       = "EMR_DefaultRole"
	DefaultRegion            = "us-east-1"
	DefaultHiveVersion       = "latest"
	InstallHiveStepName      = "Install Hive"
	commandRunnerJar         = "command-runner.jar"
	legacyScriptRunnerFormat = "s3://%s.elasticmapreduce/libs/script-runner/script-runner.jar"
	legacyHiveScriptFormat   = "s3://%s.elasticmapreduce/libs/hive/hive-script"
	legacyHiveBaseFormat     = "s3://%s.elasticmapreduce/libs/hive/"
)

// API is the subset of the EMR client the engine uses.
type API interface {
	awsemr.ListStepsAPIClient
	RunJobFlow(ctx context.Context, params *awsemr.RunJobFlowInput, optFns ...func(*awsemr.Options)) (*awsemr.RunJobFlowOutput, error)
	DescribeCluster(ctx context.Context, params *awsemr.DescribeClusterInput, optFns ...func(*awsemr.Options)) (*awsemr.DescribeClusterOutput, error)
}

// Config sizes and versions the cluster.
type Config struct {
	Region             string
	ReleaseLabel       string
	HiveVersion        string
	MasterInstanceType string
	InstanceType       string
	InstanceCount      int
	JobFlowRole        string
	ServiceRole        string
	VisibleToAllUsers  bool
	AccessKeyID        string
	SecretAccessKey    string
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.ReleaseLabel == "" {
		c.ReleaseLabel = DefaultReleaseLabel
	}
	if c.HiveVersion == "" {
		c.HiveVersion = DefaultHiveVersion
	}
	if c.InstanceType == "" {
		c.InstanceType = DefaultInstanceType
	}
	if c.MasterInstanceType == "" {
		c.MasterInstanceType = c.InstanceType
	}
	if c.InstanceCount <= 0 {
		c.InstanceCount = DefaultInstanceCount
	}
	if c.JobFlowRole == "" {
		c.JobFlowRole = DefaultJobFlowRole
	}
	if c.ServiceRole == "" {
		c.ServiceRole = DefaultServiceRole
	}
	return c
}

// IsReleaseLabel reports whether v is a release label rather than a legacy AMI version.
func IsReleaseLabel(v string) bool {
	return strings.HasPrefix(v, "emr-")
}

// Engine is a port.Engine on EMR.
type Engine struct {
	client API
	cfg    Config
}

var _ port.Engine = (*Engine)(nil)

// NewEngine creates an Engine, resolving credentials through awsclient.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	awsCfg, err := awsclient.Load(ctx, awsclient.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to load aws config", err)
	}
	return NewEngineWithClient(awsemr.NewFromConfig(awsCfg), cfg), nil
}

// NewEngineWithClient wraps an existing client.
func NewEngineWithClient(client API, cfg Config) *Engine {
	return &Engine{client: client, cfg: cfg.withDefaults()}
}

// JobFlowInput builds the RunJobFlow request for sub.
func (e *Engine) JobFlowInput(sub port.Submission) *awsemr.RunJobFlowInput {
	in := &awsemr.RunJobFlowInput{
		Name: aws.String(sub.JobKey),
		Instances: &types.JobFlowInstancesConfig{
			MasterInstanceType:          aws.String(e.cfg.MasterInstanceType),
			SlaveInstanceType:           aws.String(e.cfg.InstanceType),
			InstanceCount:               aws.Int32(int32(e.cfg.InstanceCount)),
			KeepJobFlowAliveWhenNoSteps: aws.Bool(false),
		},
		JobFlowRole:       aws.String(e.cfg.JobFlowRole),
		ServiceRole:       aws.String(e.cfg.ServiceRole),
		VisibleToAllUsers: aws.Bool(e.cfg.VisibleToAllUsers),
	}
	if sub.LogURI != "" {
		in.LogUri = aws.String(sub.LogURI)
	}

	if IsReleaseLabel(e.cfg.ReleaseLabel) {
		in.ReleaseLabel = aws.String(e.cfg.ReleaseLabel)
		in.Applications = []types.Application{{Name: aws.String("Hive")}}
		in.Steps = []types.StepConfig{{
			Name:            aws.String(sub.JobName),
			ActionOnFailure: types.ActionOnFailureCancelAndWait,
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar:  aws.String(commandRunnerJar),
				Args: []string{"hive-script", "--run-hive-script", "--args", "-f", sub.ScriptURI},
			},
		}}
		return in
	}

	region := e.cfg.Region
	scriptRunner := fmt.Sprintf(legacyScriptRunnerFormat, region)
	hiveScript := fmt.Sprintf(legacyHiveScriptFormat, region)
	hiveBase := fmt.Sprintf(legacyHiveBaseFormat, region)
	in.AmiVersion = aws.String(e.cfg.ReleaseLabel)
	in.Steps = []types.StepConfig{
		{
			Name:            aws.String(InstallHiveStepName),
			ActionOnFailure: types.ActionOnFailureTerminateCluster,
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar:  aws.String(scriptRunner),
				Args: []string{hiveScript, "--base-path", hiveBase, "--install-hive", "--hive-versions", e.cfg.HiveVersion},
			},
		},
		{
			Name:            aws.String(sub.JobName),
			ActionOnFailure: types.ActionOnFailureCancelAndWait,
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar: aws.String(scriptRunner),
				Args: []string{hiveScript, "--base-path", hiveBase, "--hive-versions", e.cfg.HiveVersion,
					"--run-hive-script", "--args", "-f", sub.ScriptURI},
			},
		},
	}
	return in
}

// Submit creates the cluster and returns its ID.
func (e *Engine) Submit(ctx context.Context, sub port.Submission) (string, error) {
	out, err := e.client.RunJobFlow(ctx, e.JobFlowInput(sub))
	if err != nil {
		return "", exception.NewExecutionFailure(moduleName, "failed to start job flow", "", err.Error(), err)
	}
	id := aws.ToString(out.JobFlowId)
	logger.Infof("Job flow created with id: %s", id)
	return id, nil
}

// Describe returns the cluster state and its state change reason.
func (e *Engine) Describe(ctx context.Context, executionID string) (port.ExecutionStatus, error) {
	out, err := e.client.DescribeCluster(ctx, &awsemr.DescribeClusterInput{ClusterId: aws.String(executionID)})
	if err != nil {
		return port.ExecutionStatus{}, fmt.Errorf("emr: describe cluster %s: %w", executionID, err)
	}
	var status port.ExecutionStatus
	if out.Cluster != nil && out.Cluster.Status != nil {
		status.State = string(out.Cluster.Status.State)
		if r := out.Cluster.Status.StateChangeReason; r != nil {
			status.Reason = aws.ToString(r.Message)
		}
	}
	return status, nil
}

// ListSteps returns every step on the cluster.
func (e *Engine) ListSteps(ctx context.Context, executionID string) ([]port.Step, error) {
	var steps []port.Step
	p := awsemr.NewListStepsPaginator(e.client, &awsemr.ListStepsInput{ClusterId: aws.String(executionID)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("emr: list steps of %s: %w", executionID, err)
		}
		for _, s := range page.Steps {
			steps = append(steps, toStep(s))
		}
	}
	// ListSteps returns newest first.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}

func toStep(s types.StepSummary) port.Step {
	step := port.Step{Name: aws.ToString(s.Name), Status: model.StepStatusPending}
	if s.Status == nil {
		return step
	}
	step.Status = MapStepState(s.Status.State)
	if t := s.Status.Timeline; t != nil {
		step.Start = t.StartDateTime
		step.End = t.EndDateTime
	}
	if fd := s.Status.FailureDetails; fd != nil {
		step.Reason = strings.TrimSpace(strings.Join(nonEmpty(aws.ToString(fd.Reason), aws.ToString(fd.Message), aws.ToString(fd.LogFile)), " "))
	} else if r := s.Status.StateChangeReason; r != nil {
		step.Reason = aws.ToString(r.Message)
	}
	return step
}

// MapStepState folds EMR step states into StepStatus.
func MapStepState(s types.StepState) model.StepStatus {
	switch s {
	case types.StepStateRunning, types.StepStateCancelPending:
		return model.StepStatusRunning
	case types.StepStateCompleted:
		return model.StepStatusCompleted
	case types.StepStateFailed, types.StepStateInterrupted:
		return model.StepStatusFailed
	case types.StepStateCancelled:
		return model.StepStatusCancelled
	default:
		return model.StepStatusPending
	}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
