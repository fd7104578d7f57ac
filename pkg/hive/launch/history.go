package launch

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// NewHistoryCommand creates the "history" command, which lists the recorded runs of a job.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "history --job <name>",
		Short:        "List recorded runs of a job, newest first",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.Flags().String(FlagConfPath, "", "Path to the YAML configuration file (default $"+DefaultConfPathEnv+")")
	cmd.Flags().String("job", "", "Job name")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list; 0 lists all")
	_ = cmd.MarkFlagRequired("job")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		confPath, _ := cmd.Flags().GetString(FlagConfPath)
		if confPath == "" {
			confPath = os.Getenv(DefaultConfPathEnv)
		}
		jobName, _ := cmd.Flags().GetString("job")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.LoadConfig(os.Getenv(EnvFilePath), confPath)
		if err != nil {
			return err
		}
		if cfg.History.Type == "" || cfg.History.Type == "none" || cfg.History.Type == "memory" {
			return exception.NewConfigurationErrorf(moduleName, "history type %q keeps no records between runs", cfg.History.Type)
		}
		repo, err := OpenHistory(cmd.Context(), cfg.History, cfg.System.Logging)
		if err != nil {
			return err
		}
		defer repo.Close()

		runs, err := repo.FindJobRunsByJobName(cmd.Context(), jobName, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATE\tRUNNER\tEXECUTION\tDURATION\tJOB KEY")
		for _, run := range runs {
			duration := "-"
			if run.EndTime != nil {
				duration = run.Duration().Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				run.StartTime.Format(time.RFC3339), run.State, run.Runner, run.ExecutionID, duration, run.JobKey)
		}
		return w.Flush()
	}
	return cmd
}
