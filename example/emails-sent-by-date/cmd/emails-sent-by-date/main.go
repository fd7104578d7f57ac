// Command emails-sent-by-date sums the emails sent per year and weekday.
//
//	$ emails-sent-by-date -r local --output-dir /tmp/out emails-sent-by-date.csv
package main

import (
	"github.com/tigerroll/apiary/example/emails-sent-by-date/internal/job"
	"github.com/tigerroll/apiary/pkg/hive/launch"
)

func main() {
	launch.Main(launch.NewCommand(job.EmailRecipientsSummary{}))
}
