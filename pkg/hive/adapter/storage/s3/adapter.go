// Package s3 provides the Amazon S3 implementation of the object store.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tigerroll/apiary/pkg/hive/adapter/awsclient"
	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this storage provider.
	ProviderType = "s3"
	// Scheme is the URI scheme served by the store.
	Scheme = "s3"
)

// API is the subset of the S3 client the store uses.
type API interface {
	awss3.ListObjectsV2APIClient
	CopyObject(ctx context.Context, params *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, params *awss3.UploadPartCopyInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
}

// Store implements storage.Store on S3.
type Store struct {
	client API
}

var (
	_ storageAdapter.Store = (*Store)(nil)
	_ port.Concatenator    = (*Store)(nil)
)

// NewStore creates a Store from configuration, resolving credentials through awsclient.
func NewStore(ctx context.Context, cfg storageAdapter.Config) (*Store, error) {
	awsCfg, err := awsclient.Load(ctx, awsclient.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: failed to load aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewStoreWithClient(client), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client API) *Store {
	return &Store{client: client}
}

// Scheme returns "s3".
func (s *Store) Scheme() string { return Scheme }

// IsDirectory reports whether uri ends with "/".
func (s *Store) IsDirectory(uri string) bool { return storageAdapter.IsDirectory(uri) }

// ParseURI splits s3://bucket/key.
func (s *Store) ParseURI(uri string) (string, string, error) {
	scheme, bucket, key, err := storageAdapter.ParseURI(uri)
	if err != nil {
		return "", "", err
	}
	if scheme != Scheme {
		return "", "", fmt.Errorf("s3 store: unsupported scheme %q in %q", scheme, uri)
	}
	return bucket, key, nil
}

// Copy copies one object, or every non-empty object under a prefix to dst+index.
func (s *Store) Copy(ctx context.Context, src, dst string) (string, error) {
	srcBucket, srcKey, err := s.ParseURI(src)
	if err != nil {
		return "", err
	}
	dstBucket, dstKey, err := s.ParseURI(dst)
	if err != nil {
		return "", err
	}
	if !s.IsDirectory(src) {
		if err := s.copyObject(ctx, srcBucket, srcKey, dstBucket, dstKey); err != nil {
			return "", err
		}
		return dst, nil
	}

	objects, err := s.nonEmptyObjects(ctx, srcBucket, srcKey)
	if err != nil {
		return "", err
	}
	for i, obj := range objects {
		if err := s.copyObject(ctx, srcBucket, aws.ToString(obj.Key), dstBucket, dstKey+strconv.Itoa(i)); err != nil {
			return "", err
		}
	}
	logger.Debugf("Copied %d objects from '%s' to '%s'.", len(objects), src, dst)
	return storageAdapter.DirectoryResult(dst), nil
}

// Upload writes the local file localPath to dst.
func (s *Store) Upload(ctx context.Context, localPath, dst string) error {
	bucket, key, err := s.ParseURI(dst)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3 store: failed to open '%s': %w", localPath, err)
	}
	defer f.Close()

	if _, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("s3 store: failed to upload '%s' to '%s': %w", localPath, dst, err)
	}
	logger.Debugf("Uploaded '%s' to '%s'.", localPath, dst)
	return nil
}

// Cat streams every non-empty object under dir to w.
func (s *Store) Cat(ctx context.Context, dir string, w io.Writer) error {
	bucket, prefix, err := s.ParseURI(storageAdapter.DirectoryResult(dir))
	if err != nil {
		return err
	}
	objects, err := s.nonEmptyObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
		if err != nil {
			return fmt.Errorf("s3 store: failed to get 's3://%s/%s': %w", bucket, aws.ToString(obj.Key), err)
		}
		_, err = io.Copy(w, out.Body)
		out.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes one object, or every object under a prefix.
func (s *Store) Remove(ctx context.Context, uri string) error {
	bucket, key, err := s.ParseURI(uri)
	if err != nil {
		return err
	}
	keys := []string{key}
	if s.IsDirectory(uri) {
		keys = keys[:0]
		p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(key)})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return fmt.Errorf("s3 store: failed to list 's3://%s/%s': %w", bucket, key, err)
			}
			for _, obj := range page.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
		}
	}
	for _, k := range keys {
		if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(k)}); err != nil {
			return fmt.Errorf("s3 store: failed to delete 's3://%s/%s': %w", bucket, k, err)
		}
	}
	return nil
}

// Concatenate merges every non-empty object under srcDir into dst with a multipart copy.
// S3 requires every part but the last to be at least 5MB.
func (s *Store) Concatenate(ctx context.Context, srcDir, dst string) error {
	srcBucket, srcKey, err := s.ParseURI(srcDir)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := s.ParseURI(dst)
	if err != nil {
		return err
	}
	objects, err := s.nonEmptyObjects(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("s3 store: nothing to concatenate under '%s'", srcDir)
	}

	mp, err := s.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{Bucket: aws.String(dstBucket), Key: aws.String(dstKey)})
	if err != nil {
		return fmt.Errorf("s3 store: failed to start multipart upload to '%s': %w", dst, err)
	}
	parts := make([]types.CompletedPart, 0, len(objects))
	for i, obj := range objects {
		partNumber := int32(i + 1)
		out, err := s.client.UploadPartCopy(ctx, &awss3.UploadPartCopyInput{
			Bucket:     aws.String(dstBucket),
			Key:        aws.String(dstKey),
			UploadId:   mp.UploadId,
			PartNumber: aws.Int32(partNumber),
			CopySource: aws.String(copySource(srcBucket, aws.ToString(obj.Key))),
		})
		if err != nil {
			s.abort(ctx, dstBucket, dstKey, mp.UploadId)
			return fmt.Errorf("s3 store: failed to copy part %d: %w", partNumber, err)
		}
		var etag *string
		if out.CopyPartResult != nil {
			etag = out.CopyPartResult.ETag
		}
		parts = append(parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(partNumber)})
	}
	if _, err := s.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(dstBucket),
		Key:             aws.String(dstKey),
		UploadId:        mp.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		s.abort(ctx, dstBucket, dstKey, mp.UploadId)
		return fmt.Errorf("s3 store: failed to complete multipart upload to '%s': %w", dst, err)
	}
	return nil
}

func (s *Store) abort(ctx context.Context, bucket, key string, uploadID *string) {
	if _, err := s.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{Bucket: aws.String(bucket), Key: aws.String(key), UploadId: uploadID}); err != nil {
		logger.Warnf("Failed to abort multipart upload to 's3://%s/%s': %v", bucket, key, err)
	}
}

func (s *Store) copyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if _, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	}); err != nil {
		return fmt.Errorf("s3 store: failed to copy 's3://%s/%s' to 's3://%s/%s': %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

// nonEmptyObjects lists objects under prefix, skipping zero-byte keys.
func (s *Store) nonEmptyObjects(ctx context.Context, bucket, prefix string) ([]types.Object, error) {
	var objects []types.Object
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(prefix)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 store: failed to list 's3://%s/%s': %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if aws.ToInt64(obj.Size) > 0 {
				objects = append(objects, obj)
			}
		}
	}
	return objects, nil
}

func copySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}
