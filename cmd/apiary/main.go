// Command apiary runs Hive jobs described in YAML files and lists their history.
//
//	apiary run --job-file job.yaml -r emr s3://bucket/input.csv
//	apiary history --job EmailsByDate
package main

import (
	"github.com/spf13/cobra"

	"github.com/tigerroll/apiary/pkg/hive/launch"
)

func main() {
	root := &cobra.Command{
		Use:           "apiary",
		Short:         "Launch Hive jobs locally, on EMR or on Dataproc",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(launch.NewRunCommand(), launch.NewHistoryCommand())
	launch.Main(root)
}
