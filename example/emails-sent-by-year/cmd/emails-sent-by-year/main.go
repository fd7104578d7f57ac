// Command emails-sent-by-year sums the emails sent per weekday of one year.
//
//	$ emails-sent-by-year -r local --year 2014 --output-dir /tmp/out emails-sent-by-date.csv
package main

import (
	"github.com/tigerroll/apiary/example/emails-sent-by-year/internal/job"
	"github.com/tigerroll/apiary/pkg/hive/launch"
)

func main() {
	launch.Main(launch.NewCommand(&job.EmailRecipientsSummaryByYear{}))
}
