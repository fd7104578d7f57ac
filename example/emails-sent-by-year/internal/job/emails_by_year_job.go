// Package job defines a summary job restricted to one year by a --year flag.
package job

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
)

// EmailRecipientsSummaryByYear totals the emails sent per weekday of one year.
type EmailRecipientsSummaryByYear struct {
	Year int
}

func (j *EmailRecipientsSummaryByYear) Name() string  { return "EmailRecipientsSummaryByYear" }
func (j *EmailRecipientsSummaryByYear) Table() string { return "emails_sent" }

func (j *EmailRecipientsSummaryByYear) InputColumns() []model.Column {
	return []model.Column{
		{Name: "day", Type: "STRING"},
		{Name: "weekday", Type: "INT"},
		{Name: "sent", Type: "BIGINT"},
	}
}

func (j *EmailRecipientsSummaryByYear) OutputColumns() []model.Column {
	return []model.Column{
		{Name: "year", Type: "INT"},
		{Name: "weekday", Type: "INT"},
		{Name: "sent", Type: "BIGINT"},
	}
}

// ConfigureFlags adds --year.
func (j *EmailRecipientsSummaryByYear) ConfigureFlags(fs *pflag.FlagSet) {
	fs.IntVar(&j.Year, "year", 2014, "Year to summarise")
}

func (j *EmailRecipientsSummaryByYear) Query() string {
	return fmt.Sprintf("SELECT YEAR(day), weekday, SUM(sent) FROM emails_sent WHERE YEAR(day) = %d GROUP BY YEAR(day), weekday;", j.Year)
}

var (
	_ model.Job            = (*EmailRecipientsSummaryByYear)(nil)
	_ model.FlagConfigurer = (*EmailRecipientsSummaryByYear)(nil)
)
