package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
)

func TestParseURI(t *testing.T) {
	scheme, bucket, key, err := storageAdapter.ParseURI("s3://foo/bar/baz.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3", scheme)
	assert.Equal(t, "foo", bucket)
	assert.Equal(t, "bar/baz.csv", key)

	_, bucket, key, err = storageAdapter.ParseURI("gs://data.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "data.example.com", bucket)
	assert.Empty(t, key)

	for _, bad := range []string{"s3://", "s3://bucket", "/local/path", "s3://bu cket/x"} {
		_, _, _, err := storageAdapter.ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsDirectory(t *testing.T) {
	assert.False(t, storageAdapter.IsDirectory("s3://foo/bar/baz.csv"))
	assert.True(t, storageAdapter.IsDirectory("s3://foo/bar/baz/"))
}

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, "s3", storageAdapter.SchemeOf("s3://a/b"))
	assert.Equal(t, "gs", storageAdapter.SchemeOf("gs://a/b"))
	assert.Equal(t, "file", storageAdapter.SchemeOf("file:///tmp/a"))
	assert.Equal(t, "file", storageAdapter.SchemeOf("/tmp/a"))
	assert.Equal(t, "file", storageAdapter.SchemeOf("relative/path"))
}

func TestDirectoryResult(t *testing.T) {
	assert.Equal(t, "s3://a/data/", storageAdapter.DirectoryResult("s3://a/data"))
	assert.Equal(t, "s3://a/data/", storageAdapter.DirectoryResult("s3://a/data/"))
}
