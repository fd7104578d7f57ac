package launch

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// FlagJobFile is the flag of the run command naming the job file.
const FlagJobFile = "job-file"

// LoadJobFile reads a job definition:
//
//	name: EmailsByDate
//	table: emails_sent
//	input_columns:
//	  - {name: day, type: STRING}
//	output_columns:
//	  - {name: day, type: STRING}
//	query: SELECT day FROM emails_sent
//
// ${VAR} placeholders are expanded from the environment.
func LoadJobFile(path string) (*model.Definition, error) {
	if path == "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "must provide a job file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to read job file "+path, err)
	}
	var def model.Definition
	if err := yaml.Unmarshal(config.NewOsEnvironmentExpander().Expand(data), &def); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to parse job file "+path, err)
	}
	if err := model.ValidateJob(&def); err != nil {
		return nil, err
	}
	return &def, nil
}
