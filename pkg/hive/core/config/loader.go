package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "config"

// EnvPrefix prefixes every environment override, e.g. APIARY_HISTORY_TYPE.
const EnvPrefix = "APIARY_"

// LoadConfig loads configuration in this order: defaults, the .env file, the YAML file
// at path (with ${VAR} expansion), then APIARY_* environment overrides.
//
// Parameters:
//
//	envFilePath: The .env file to load. Empty means ".env" in the working directory, if present.
//	path: The YAML file. Empty means no file.
//
// Returns:
//
//	The loaded Config, or a ConfigurationError.
func LoadConfig(envFilePath, path string) (*Config, error) {
	loadEnvFile(envFilePath)

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to read config file '%s'", path), err)
		}
		data = raw
	}
	return LoadConfigBytes(data)
}

// LoadConfigBytes is LoadConfig for YAML already in memory. The .env file is not read.
func LoadConfigBytes(data []byte) (*Config, error) {
	cfg := NewConfig()

	if len(data) > 0 {
		var yamlConfig Config
		expanded := NewOsEnvironmentExpander().Expand(data)
		if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to unmarshal config", err)
		}
		mergeConfig(cfg, &yamlConfig)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to load config from environment variables", err)
	}
	return cfg, nil
}

func loadEnvFile(envFilePath string) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
}

// OsEnvironmentExpander expands placeholders from the process environment.
// Unset variables expand to "".
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates an OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand replaces ${VAR} and $VAR with the value of VAR.
func (e *OsEnvironmentExpander) Expand(input []byte) []byte {
	return []byte(os.ExpandEnv(string(input)))
}

// mergeConfig copies every non-zero value of source into dest.
func mergeConfig(dest, source *Config) {
	if source.System.Logging.Level != "" {
		dest.System.Logging.Level = source.System.Logging.Level
	}
	if source.System.Logging.Format != "" {
		dest.System.Logging.Format = source.System.Logging.Format
	}
	mergeHistoryConfig(&dest.History, &source.History)
	mergeTelemetryConfig(&dest.Telemetry, &source.Telemetry)
	if source.Metrics.Textfile != "" {
		dest.Metrics.Textfile = source.Metrics.Textfile
	}
	for name, section := range source.Runners {
		if dest.Runners == nil {
			dest.Runners = make(map[string]map[string]interface{})
		}
		dest.Runners[name] = section
	}
}

func mergeHistoryConfig(dest, source *HistoryConfig) {
	if source.Type != "" {
		dest.Type = source.Type
	}
	if source.DSN != "" {
		dest.DSN = source.DSN
	}
	if source.Host != "" {
		dest.Host = source.Host
	}
	if source.Port != 0 {
		dest.Port = source.Port
	}
	if source.User != "" {
		dest.User = source.User
	}
	if source.Password != "" {
		dest.Password = source.Password
	}
	if source.Database != "" {
		dest.Database = source.Database
	}
	if source.SSLMode != "" {
		dest.SSLMode = source.SSLMode
	}
}

func mergeTelemetryConfig(dest, source *TelemetryConfig) {
	if source.Exporter != "" {
		dest.Exporter = source.Exporter
	}
	if source.Endpoint != "" {
		dest.Endpoint = source.Endpoint
	}
	if source.Insecure {
		dest.Insecure = true
	}
	if source.ServiceName != "" {
		dest.ServiceName = source.ServiceName
	}
}

// loadStructFromEnv walks val and sets every field whose upper-cased yaml tag path,
// joined with "_" and prefixed with prefix, names a set environment variable.
// Maps are skipped; runner sections come from the file or the CLI.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch field.Kind() {
		case reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case reflect.Map, reflect.Slice:
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField converts value to the field's kind and sets it.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
