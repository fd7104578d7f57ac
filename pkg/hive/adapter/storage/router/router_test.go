package router_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/local"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/router"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Scheme() string           { return "s3" }
func (m *mockRemote) IsDirectory(u string) bool { return storageAdapter.IsDirectory(u) }
func (m *mockRemote) ParseURI(u string) (string, string, error) {
	args := m.Called(u)
	return args.String(0), args.String(1), args.Error(2)
}
func (m *mockRemote) Copy(ctx context.Context, src, dst string) (string, error) {
	args := m.Called(src, dst)
	return args.String(0), args.Error(1)
}
func (m *mockRemote) Upload(ctx context.Context, localPath, dst string) error {
	return m.Called(filepath.Base(localPath), dst).Error(0)
}
func (m *mockRemote) Cat(ctx context.Context, dir string, w io.Writer) error {
	return m.Called(dir).Error(0)
}
func (m *mockRemote) Remove(ctx context.Context, uri string) error {
	return m.Called(uri).Error(0)
}

func newLocal(t *testing.T) *local.Store {
	t.Helper()
	s, err := local.NewStore(storageAdapter.Config{})
	require.NoError(t, err)
	return s
}

func TestCopy_SameSchemeDelegates(t *testing.T) {
	remote := &mockRemote{}
	remote.On("Copy", "s3://a/in.csv", "s3://b/data").Return("s3://b/data", nil).Once()

	got, err := router.New(newLocal(t), remote).Copy(context.Background(), "s3://a/in.csv", "s3://b/data")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/data", got)
	remote.AssertExpectations(t)
}

func TestCopy_LocalDirectoryToRemote(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.csv"), nil, 0o644))

	remote := &mockRemote{}
	remote.On("Upload", "a.csv", "s3://b/hj-1/data/0").Return(nil).Once()
	remote.On("Upload", "b.csv", "s3://b/hj-1/data/1").Return(nil).Once()

	got, err := router.New(newLocal(t), remote).Copy(context.Background(), dir+"/", "s3://b/hj-1/data/")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/hj-1/data/", got)
	remote.AssertExpectations(t)
}

func TestCopy_LocalFileToRemote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	remote := &mockRemote{}
	remote.On("Upload", "emails.csv", "s3://b/hj-1/data").Return(nil).Once()

	got, err := router.New(newLocal(t), remote).Copy(context.Background(), path, "s3://b/hj-1/data")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/hj-1/data", got)
}

func TestCopy_RemoteToLocalUnsupported(t *testing.T) {
	_, err := router.New(newLocal(t), &mockRemote{}).Copy(context.Background(), "s3://a/in.csv", "/tmp/x")
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestUnknownScheme(t *testing.T) {
	r := router.New(newLocal(t))
	err := r.Upload(context.Background(), "/tmp/x", "gs://bucket/x")
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestCat_Local(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000000_0"), []byte("a\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, router.New(newLocal(t)).Cat(context.Background(), dir, &buf))
	assert.Equal(t, "a\n", buf.String())
}

func TestConcatenate_Unsupported(t *testing.T) {
	err := router.New(newLocal(t)).Concatenate(context.Background(), "/tmp/out/", "/tmp/merged")
	assert.Error(t, err)
}
