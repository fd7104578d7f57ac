// Package launch turns a job into a command line program: it parses the launcher
// flags, merges them with the configuration file, and runs the job through an fx application.
package launch

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// EnvFilePath names the .env file read before the configuration file.
const EnvFilePath = "ENV_FILE_PATH"

type commandSettings struct {
	factory Factory
	output  io.Writer
}

// CommandOption customises NewCommand.
type CommandOption func(*commandSettings)

// WithFactory replaces the engine and store factories.
func WithFactory(f Factory) CommandOption {
	return func(s *commandSettings) { s.factory = f }
}

// WithOutput sets where a local run's results are written.
func WithOutput(w io.Writer) CommandOption {
	return func(s *commandSettings) { s.output = w }
}

// NewCommand creates a cobra command that runs job on the input given as its argument.
// Jobs implementing model.FlagConfigurer get their flags registered on the command.
func NewCommand(job model.Job, options ...CommandOption) *cobra.Command {
	settings := newSettings(options)

	cmd := &cobra.Command{
		Use:           job.Name() + " [flags] <input>",
		Short:         "Run the " + job.Name() + " hive job",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddRunnerFlags(cmd.Flags())
	if fc, ok := job.(model.FlagConfigurer); ok {
		fc.ConfigureFlags(cmd.Flags())
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return execute(cmd, job, args, settings)
	}
	return cmd
}

// NewRunCommand creates the "run" command, which runs a job defined in a YAML job file.
func NewRunCommand(options ...CommandOption) *cobra.Command {
	settings := newSettings(options)
	cmd := &cobra.Command{
		Use:           "run --job-file <job.yaml> [flags] <input>",
		Short:         "Run a hive job defined in a YAML file",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddRunnerFlags(cmd.Flags())
	cmd.Flags().String(FlagJobFile, "", "YAML file defining the job")
	_ = cmd.MarkFlagRequired(FlagJobFile)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString(FlagJobFile)
		job, err := LoadJobFile(path)
		if err != nil {
			return err
		}
		return execute(cmd, job, args, settings)
	}
	return cmd
}

func newSettings(options []CommandOption) *commandSettings {
	settings := &commandSettings{}
	for _, o := range options {
		o(settings)
	}
	return settings
}

// execute resolves configuration and options for the parsed command and runs job.
func execute(cmd *cobra.Command, job model.Job, args []string, settings *commandSettings) error {
	input := ""
	if len(args) > 0 {
		input = args[0]
	}
	if input == "" {
		return exception.NewConfigurationErrorf(moduleName, "must provide path to source data")
	}

	confPath, _ := cmd.Flags().GetString(FlagConfPath)
	if confPath == "" {
		confPath = os.Getenv(DefaultConfPathEnv)
	}
	cfg, err := config.LoadConfig(os.Getenv(EnvFilePath), confPath)
	if err != nil {
		return err
	}
	opts, err := ResolveRunnerOptions(cfg, cmd.Flags())
	if err != nil {
		return err
	}
	ConfigureLogging(cfg.System.Logging, opts)
	if err := model.ValidateJob(job); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return Run(ctx, cfg, settings.factory, Request{
		Job:     job,
		Input:   input,
		Options: opts,
		Output:  settings.output,
	})
}

// Main runs cmd with a context cancelled on SIGINT or SIGTERM and exits non-zero on failure.
func Main(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
