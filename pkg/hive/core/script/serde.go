package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const (
	// CSVSerdeClass is the row format class of the CSV serde.
	CSVSerdeClass = "com.bizo.hive.serde.csv.CSVSerde"
	// CSVSerdeJar is the file name of the bundled CSV serde jar.
	CSVSerdeJar = "csv-serde-1.1.2-0.11.0-all.jar"
	// JarURIEnv names a known remote location of the CSV serde jar.
	JarURIEnv = "CSV_SERDE_JAR_URI"
	// LegacyJarURIEnv is the older S3-only spelling of JarURIEnv.
	LegacyJarURIEnv = "CSV_SERDE_JAR_S3"
)

// Serde describes the serializer/deserializer a script registers with Hive.
type Serde struct {
	Name  string
	Class string
	// JarPath is the jar on the local filesystem.
	JarPath string

	mu        sync.Mutex
	remoteURI string
}

// CSVSerde returns the CSV serde with its jar under DefaultJarsDir.
func CSVSerde() *Serde {
	return &Serde{Name: "csv", Class: CSVSerdeClass, JarPath: filepath.Join(DefaultJarsDir(), CSVSerdeJar)}
}

// DefaultJarsDir returns APIARY_JARS_DIR or "jars".
func DefaultJarsDir() string {
	if dir := os.Getenv("APIARY_JARS_DIR"); dir != "" {
		return dir
	}
	return "jars"
}

// NewSerde returns the serde called name. Only "csv" is known, and an empty
// name means csv. A non-empty jarPath overrides the bundled jar location.
func NewSerde(name, jarPath string) (*Serde, error) {
	if name != "" && !strings.EqualFold(name, "csv") {
		return nil, exception.NewValidationErrorf(moduleName, "unknown serde %q", name)
	}
	s := CSVSerde()
	if jarPath != "" {
		s.JarPath = jarPath
	}
	return s, nil
}

// RemoteJarURI returns where the jar lives in the object store.
// The lookup order is configuredURI, then CSV_SERDE_JAR_URI / CSV_SERDE_JAR_S3, then an
// upload of the local jar to <scratchURI>jars/csv-serde.jar. The result is cached.
func (s *Serde) RemoteJarURI(ctx context.Context, store port.ObjectStore, configuredURI, scratchURI string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remoteURI != "" {
		return s.remoteURI, nil
	}
	if configuredURI != "" {
		s.remoteURI = configuredURI
		return s.remoteURI, nil
	}
	for _, env := range []string{JarURIEnv, LegacyJarURIEnv} {
		if v := os.Getenv(env); v != "" {
			s.remoteURI = v
			return s.remoteURI, nil
		}
	}
	if scratchURI == "" {
		return "", exception.NewConfigurationErrorf(moduleName, "must specify the scratch URI to upload the %s serde jar", s.Name)
	}
	dst := scratchURI + "jars/" + s.Name + "-serde.jar"
	logger.Infof("Uploading %s serde jar %s to %s", s.Name, s.JarPath, dst)
	if err := store.Upload(ctx, s.JarPath, dst); err != nil {
		return "", exception.NewConfigurationError(moduleName, "failed to upload serde jar", err)
	}
	s.remoteURI = dst
	return s.remoteURI, nil
}
