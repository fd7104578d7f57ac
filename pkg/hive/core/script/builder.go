// Package script turns a declarative job into the Hive script that loads the input,
// runs the query into a results table, and prints the results.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const moduleName = "script"

// ResultsTableSuffix is appended to the staging table name to name the results table.
const ResultsTableSuffix = "_results"

// Locations are the storage paths a script refers to.
type Locations struct {
	// DataPath is loaded into the staging table.
	DataPath string
	// TablePath backs the staging table.
	TablePath string
	// OutputPath backs the results table; the job's output lands here.
	OutputPath string
}

// Builder assembles Hive scripts for one job. It holds the normalised query.
type Builder struct {
	table        string
	resultsTable string
	input        []model.Column
	output       []model.Column
	query        string
	serde        *Serde
}

// NewBuilder validates the job and normalises its query.
func NewBuilder(job model.Job, serde *Serde) (*Builder, error) {
	if err := model.ValidateJob(job); err != nil {
		return nil, err
	}
	q, err := NormalizeQuery(job.Table(), job.Query())
	if err != nil {
		return nil, err
	}
	if serde == nil {
		serde = CSVSerde()
	}
	return &Builder{
		table:        job.Table(),
		resultsTable: job.Table() + ResultsTableSuffix,
		input:        job.InputColumns(),
		output:       job.OutputColumns(),
		query:        q,
		serde:        serde,
	}, nil
}

// Query returns the normalised query.
func (b *Builder) Query() string { return b.query }

// ResultsTable returns the name of the results table.
func (b *Builder) ResultsTable() string { return b.resultsTable }

// Serde returns the serde the script registers.
func (b *Builder) Serde() *Serde { return b.serde }

// RemoteScript returns the script for a cluster run. jarURI is the serde jar in the object store.
func (b *Builder) RemoteScript(jarURI string, loc Locations) string {
	return b.build(jarURI, loc, "LOAD DATA INPATH")
}

// LocalScript returns the script for a local hive run. jarPath is the serde jar on disk.
func (b *Builder) LocalScript(jarPath string, loc Locations) string {
	return b.build(jarPath, loc, "LOAD DATA LOCAL INPATH")
}

func (b *Builder) build(jar string, loc Locations, load string) string {
	parts := []string{
		fmt.Sprintf("ADD JAR %s;", jar),
		"SET hive.exec.compress.output=false;",
	}
	parts = append(parts, b.tableDDL(b.table, b.input, loc.TablePath)...)
	parts = append(parts, fmt.Sprintf("%s '%s' INTO TABLE %s;", load, loc.DataPath, b.table))
	parts = append(parts, b.tableDDL(b.resultsTable, b.output, loc.OutputPath)...)
	parts = append(parts, fmt.Sprintf("INSERT INTO TABLE %s %s", b.resultsTable, b.query))
	parts = append(parts, b.query)
	return strings.Join(parts, "\n")
}

func (b *Builder) tableDDL(name string, columns []model.Column, location string) []string {
	return []string{
		fmt.Sprintf("CREATE EXTERNAL TABLE %s (%s)", name, ColumnDDL(columns)),
		fmt.Sprintf("ROW FORMAT serde '%s'", b.serde.Class),
		"STORED AS TEXTFILE",
		fmt.Sprintf("LOCATION '%s';", location),
	}
}

// ColumnDDL renders columns as "`name` TYPE, ..." for a CREATE TABLE statement.
func ColumnDDL(columns []model.Column) string {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("`%s` %s", c.Name, c.Type))
	}
	return strings.Join(defs, ", ")
}

// WriteScriptFile writes script to path, creating parent directories.
func WriteScriptFile(script, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to create script directory for %s", path), err)
	}
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to write script %s", path), err)
	}
	return nil
}
