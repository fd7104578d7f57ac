// Package job defines the emails-sent summary job.
package job

import (
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
)

// EmailRecipientsSummary totals the emails sent per year and weekday.
type EmailRecipientsSummary struct{}

func (EmailRecipientsSummary) Name() string  { return "EmailRecipientsSummary" }
func (EmailRecipientsSummary) Table() string { return "emails_sent" }

func (EmailRecipientsSummary) InputColumns() []model.Column {
	return []model.Column{
		{Name: "day", Type: "STRING"},
		{Name: "weekday", Type: "INT"},
		{Name: "sent", Type: "BIGINT"},
	}
}

func (EmailRecipientsSummary) OutputColumns() []model.Column {
	return []model.Column{
		{Name: "year", Type: "INT"},
		{Name: "weekday", Type: "INT"},
		{Name: "sent", Type: "BIGINT"},
	}
}

func (EmailRecipientsSummary) Query() string {
	return "SELECT YEAR(day), weekday, SUM(sent) FROM emails_sent GROUP BY YEAR(day), weekday;"
}

var _ model.Job = EmailRecipientsSummary{}
