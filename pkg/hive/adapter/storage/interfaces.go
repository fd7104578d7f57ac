// Package storage holds what the object-store adapters share: URI parsing,
// the store configuration, and a Router that dispatches by URI scheme.
package storage

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const moduleName = "storage"

// Store is an ObjectStore that can also stream and remove objects.
type Store interface {
	port.ObjectStore
	// Cat writes every non-empty object under dir to w, in key order.
	Cat(ctx context.Context, dir string, w io.Writer) error
	// Remove deletes uri, recursively when it is a directory.
	Remove(ctx context.Context, uri string) error
	// Scheme is the URI scheme the store serves ("s3", "gs", "file").
	Scheme() string
}

// Config holds configuration for a single object store.
type Config struct {
	Type            string `yaml:"type"`             // "s3", "gs", or "local".
	Region          string `yaml:"region"`           // Region for S3.
	Endpoint        string `yaml:"endpoint"`         // Optional endpoint override.
	PathStyle       bool   `yaml:"path_style"`       // Use path-style S3 addressing.
	AccessKeyID     string `yaml:"access_key_id"`    // Static S3 credentials.
	SecretAccessKey string `yaml:"secret_access_key"`
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS.
	BaseDir         string `yaml:"base_dir"`         // Root for local paths; empty means unrestricted.
}

var uriPattern = regexp.MustCompile(`^([a-z][a-z0-9]*)://([A-Za-z0-9._-]+)/(\S*)$`)

// ParseURI splits scheme://bucket/key. The key may be empty.
func ParseURI(uri string) (scheme, bucket, key string, err error) {
	m := uriPattern.FindStringSubmatch(uri)
	if m == nil {
		return "", "", "", exception.NewConfigurationErrorf(moduleName, "invalid object store URI %q", uri)
	}
	return m[1], m[2], m[3], nil
}

// SchemeOf returns the scheme of uri, or "file" for plain paths.
func SchemeOf(uri string) string {
	if idx := strings.Index(uri, "://"); idx > 0 {
		return uri[:idx]
	}
	return "file"
}

// IsDirectory reports whether uri names a directory, that is, ends with "/".
func IsDirectory(uri string) bool {
	return strings.HasSuffix(uri, "/")
}

// DirectoryResult is the location a directory copy returns: dst with a trailing "/".
func DirectoryResult(dst string) string {
	if IsDirectory(dst) {
		return dst
	}
	return dst + "/"
}
