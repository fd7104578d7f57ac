package s3_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/s3"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Prefix))
	return args.Get(0).(*awss3.ListObjectsV2Output), args.Error(1)
}

func (m *mockS3) CopyObject(ctx context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	args := m.Called(aws.ToString(in.CopySource), aws.ToString(in.Bucket), aws.ToString(in.Key))
	return &awss3.CopyObjectOutput{}, args.Error(0)
}

func (m *mockS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key), string(body))
	return &awss3.PutObjectOutput{}, args.Error(0)
}

func (m *mockS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key))
	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(args.String(0)))}, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, args.Error(0)
}

func (m *mockS3) CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key))
	return &awss3.CreateMultipartUploadOutput{UploadId: aws.String(args.String(0))}, args.Error(1)
}

func (m *mockS3) UploadPartCopy(ctx context.Context, in *awss3.UploadPartCopyInput, _ ...func(*awss3.Options)) (*awss3.UploadPartCopyOutput, error) {
	args := m.Called(aws.ToString(in.CopySource), aws.ToInt32(in.PartNumber))
	return &awss3.UploadPartCopyOutput{CopyPartResult: &types.CopyPartResult{ETag: aws.String(args.String(0))}}, args.Error(1)
}

func (m *mockS3) CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	args := m.Called(aws.ToString(in.UploadId), len(in.MultipartUpload.Parts))
	return &awss3.CompleteMultipartUploadOutput{}, args.Error(0)
}

func (m *mockS3) AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	args := m.Called(aws.ToString(in.UploadId))
	return &awss3.AbortMultipartUploadOutput{}, args.Error(0)
}

func listing(keys map[string]int64, order ...string) *awss3.ListObjectsV2Output {
	out := &awss3.ListObjectsV2Output{}
	for _, k := range order {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(keys[k])})
	}
	return out
}

func TestParseURI(t *testing.T) {
	store := s3.NewStoreWithClient(&mockS3{})

	bucket, key, err := store.ParseURI("s3://foo/bar/baz.csv")
	require.NoError(t, err)
	assert.Equal(t, "foo", bucket)
	assert.Equal(t, "bar/baz.csv", key)

	_, _, err = store.ParseURI("gs://foo/bar")
	assert.Error(t, err)
	_, _, err = store.ParseURI("not a uri")
	assert.Error(t, err)
}

func TestIsDirectory(t *testing.T) {
	store := s3.NewStoreWithClient(&mockS3{})
	assert.False(t, store.IsDirectory("s3://foo/bar/baz.csv"))
	assert.True(t, store.IsDirectory("s3://foo/bar/baz/"))
}

func TestCopy_File(t *testing.T) {
	client := &mockS3{}
	client.On("CopyObject", "src/in/emails.csv", "dst", "hj-1/data").Return(nil).Once()

	got, err := s3.NewStoreWithClient(client).Copy(context.Background(), "s3://src/in/emails.csv", "s3://dst/hj-1/data")
	require.NoError(t, err)
	assert.Equal(t, "s3://dst/hj-1/data", got)
	client.AssertExpectations(t)
}

func TestCopy_DirectoryIndexesNonEmptyKeys(t *testing.T) {
	client := &mockS3{}
	client.On("ListObjectsV2", "src", "in/").Return(listing(map[string]int64{
		"in/":       0,
		"in/part-a": 10,
		"in/part-b": 20,
	}, "in/", "in/part-a", "in/part-b"), nil).Once()
	client.On("CopyObject", "src/in/part-a", "dst", "hj-1/data/0").Return(nil).Once()
	client.On("CopyObject", "src/in/part-b", "dst", "hj-1/data/1").Return(nil).Once()

	got, err := s3.NewStoreWithClient(client).Copy(context.Background(), "s3://src/in/", "s3://dst/hj-1/data/")
	require.NoError(t, err)
	assert.Equal(t, "s3://dst/hj-1/data/", got)
	client.AssertExpectations(t)
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.hql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;"), 0o644))

	client := &mockS3{}
	client.On("PutObject", "bucket", "scratch/hj-1/script.hql", "SELECT 1;").Return(nil).Once()

	require.NoError(t, s3.NewStoreWithClient(client).Upload(context.Background(), path, "s3://bucket/scratch/hj-1/script.hql"))
	client.AssertExpectations(t)
}

func TestCat(t *testing.T) {
	client := &mockS3{}
	client.On("ListObjectsV2", "bucket", "out/").Return(listing(map[string]int64{"out/0": 4, "out/1": 4}, "out/0", "out/1"), nil)
	client.On("GetObject", "bucket", "out/0").Return("a,1\n", nil)
	client.On("GetObject", "bucket", "out/1").Return("b,2\n", nil)

	var buf bytes.Buffer
	require.NoError(t, s3.NewStoreWithClient(client).Cat(context.Background(), "s3://bucket/out", &buf))
	assert.Equal(t, "a,1\nb,2\n", buf.String())
}

func TestRemove_Directory(t *testing.T) {
	client := &mockS3{}
	client.On("ListObjectsV2", "bucket", "scratch/hj-1/").Return(listing(map[string]int64{"scratch/hj-1/script.hql": 9}, "scratch/hj-1/script.hql"), nil)
	client.On("DeleteObject", "bucket", "scratch/hj-1/script.hql").Return(nil).Once()

	require.NoError(t, s3.NewStoreWithClient(client).Remove(context.Background(), "s3://bucket/scratch/hj-1/"))
	client.AssertExpectations(t)
}

func TestConcatenate(t *testing.T) {
	client := &mockS3{}
	client.On("ListObjectsV2", "bucket", "out/").Return(listing(map[string]int64{"out/0": 6 << 20, "out/1": 1}, "out/0", "out/1"), nil)
	client.On("CreateMultipartUpload", "bucket", "merged.csv").Return("upload-1", nil)
	client.On("UploadPartCopy", "bucket/out/0", int32(1)).Return("etag-1", nil)
	client.On("UploadPartCopy", "bucket/out/1", int32(2)).Return("etag-2", nil)
	client.On("CompleteMultipartUpload", "upload-1", 2).Return(nil).Once()

	require.NoError(t, s3.NewStoreWithClient(client).Concatenate(context.Background(), "s3://bucket/out/", "s3://bucket/merged.csv"))
	client.AssertExpectations(t)
}
