// Package model holds the domain types of a Hive job: its declarative definition,
// its identity, and the record of a single run.
package model

import (
	"regexp"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const moduleName = "model"

// Column is one typed column of a Hive table.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Job is a declarative Hive job. Implementations describe the staging table,
// the columns read and written, and the query to run against it.
type Job interface {
	// Name identifies the job. Remote steps are matched against it by prefix.
	Name() string
	// Table is the staging table the input data is loaded into.
	Table() string
	InputColumns() []Column
	OutputColumns() []Column
	// Query is called after command-line flags have been parsed.
	Query() string
}

// FlagConfigurer is implemented by jobs that accept pass-through command-line flags.
// The flags are registered before parsing, so Query can read them.
type FlagConfigurer interface {
	ConfigureFlags(fs *pflag.FlagSet)
}

// Definition is a plain struct implementation of Job, used by YAML job files
// and by jobs that need no custom logic.
type Definition struct {
	JobName string   `yaml:"name"`
	Tbl     string   `yaml:"table"`
	Input   []Column `yaml:"input_columns"`
	Output  []Column `yaml:"output_columns"`
	SQL     string   `yaml:"query"`
}

func (d *Definition) Name() string            { return d.JobName }
func (d *Definition) Table() string           { return d.Tbl }
func (d *Definition) InputColumns() []Column  { return d.Input }
func (d *Definition) OutputColumns() []Column { return d.Output }
func (d *Definition) Query() string           { return d.SQL }

var _ Job = (*Definition)(nil)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sizedTypePattern  = regexp.MustCompile(`^(VARCHAR|CHAR)\(\d+\)$`)
	decimalPattern    = regexp.MustCompile(`^DECIMAL(\(\d+(,\s*\d+)?\))?$`)
)

var primitiveTypes = map[string]struct{}{
	"TINYINT": {}, "SMALLINT": {}, "INT": {}, "BIGINT": {},
	"FLOAT": {}, "DOUBLE": {}, "BOOLEAN": {}, "STRING": {},
	"TIMESTAMP": {}, "DATE": {}, "BINARY": {},
}

// IsHiveType reports whether t names a Hive primitive type. Matching is case-insensitive.
func IsHiveType(t string) bool {
	upper := strings.ToUpper(strings.TrimSpace(t))
	if _, ok := primitiveTypes[upper]; ok {
		return true
	}
	return sizedTypePattern.MatchString(upper) || decimalPattern.MatchString(upper)
}

// ValidateColumns checks column names and types. kind is "input" or "output" and only
// appears in error messages.
func ValidateColumns(kind string, columns []Column) error {
	if len(columns) == 0 {
		return exception.NewValidationErrorf(moduleName, "%s columns must not be empty", kind)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if !identifierPattern.MatchString(c.Name) {
			return exception.NewValidationErrorf(moduleName, "invalid %s column name %q", kind, c.Name)
		}
		if !IsHiveType(c.Type) {
			return exception.NewValidationErrorf(moduleName, "column %q has unsupported type %q", c.Name, c.Type)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return exception.NewValidationErrorf(moduleName, "duplicate %s column %q", kind, c.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateJob checks everything about a job except its query, which the script builder owns.
func ValidateJob(job Job) error {
	if strings.TrimSpace(job.Name()) == "" {
		return exception.NewValidationErrorf(moduleName, "job name must not be empty")
	}
	if !identifierPattern.MatchString(job.Table()) {
		return exception.NewValidationErrorf(moduleName, "invalid table name %q", job.Table())
	}
	if err := ValidateColumns("input", job.InputColumns()); err != nil {
		return err
	}
	return ValidateColumns("output", job.OutputColumns())
}
