// Package gcs provides the Google Cloud Storage implementation of the object store,
// used together with the Dataproc engine.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this storage provider.
	ProviderType = "gs"
	// Scheme is the URI scheme served by the store.
	Scheme = "gs"
	// maxComposeSources is the per-call limit of the GCS compose API.
	maxComposeSources = 32
)

// Store implements storage.Store on GCS.
type Store struct {
	client *storage.Client
}

var (
	_ storageAdapter.Store = (*Store)(nil)
	_ port.Concatenator    = (*Store)(nil)
)

// ClientOptions turns cfg into client options.
func ClientOptions(cfg storageAdapter.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return opts
}

// NewStore creates a Store, authenticating with cfg.CredentialsFile when set
// and application default credentials otherwise.
func NewStore(ctx context.Context, cfg storageAdapter.Config) (*Store, error) {
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs store: failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Scheme returns "gs".
func (s *Store) Scheme() string { return Scheme }

// IsDirectory reports whether uri ends with "/".
func (s *Store) IsDirectory(uri string) bool { return storageAdapter.IsDirectory(uri) }

// ParseURI splits gs://bucket/object.
func (s *Store) ParseURI(uri string) (string, string, error) {
	return ParseURI(uri)
}

// ParseURI splits gs://bucket/object without needing a client.
func ParseURI(uri string) (string, string, error) {
	scheme, bucket, key, err := storageAdapter.ParseURI(uri)
	if err != nil {
		return "", "", err
	}
	if scheme != Scheme {
		return "", "", fmt.Errorf("gcs store: unsupported scheme %q in %q", scheme, uri)
	}
	return bucket, key, nil
}

// Copy copies one object, or every non-empty object under a prefix to dst+index.
func (s *Store) Copy(ctx context.Context, src, dst string) (string, error) {
	srcBucket, srcKey, err := ParseURI(src)
	if err != nil {
		return "", err
	}
	dstBucket, dstKey, err := ParseURI(dst)
	if err != nil {
		return "", err
	}
	if !s.IsDirectory(src) {
		if err := s.copyObject(ctx, srcBucket, srcKey, dstBucket, dstKey); err != nil {
			return "", err
		}
		return dst, nil
	}
	names, err := s.nonEmptyObjects(ctx, srcBucket, srcKey)
	if err != nil {
		return "", err
	}
	for i, name := range names {
		if err := s.copyObject(ctx, srcBucket, name, dstBucket, dstKey+strconv.Itoa(i)); err != nil {
			return "", err
		}
	}
	logger.Debugf("Copied %d objects from '%s' to '%s'.", len(names), src, dst)
	return storageAdapter.DirectoryResult(dst), nil
}

// Upload writes the local file localPath to dst.
func (s *Store) Upload(ctx context.Context, localPath, dst string) error {
	bucket, key, err := ParseURI(dst)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs store: failed to open '%s': %w", localPath, err)
	}
	defer f.Close()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("gcs store: failed to upload '%s' to '%s': %w", localPath, dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs store: failed to finalize '%s': %w", dst, err)
	}
	logger.Debugf("Uploaded '%s' to '%s'.", localPath, dst)
	return nil
}

// Cat streams every non-empty object under dir to w.
func (s *Store) Cat(ctx context.Context, dir string, w io.Writer) error {
	bucket, prefix, err := ParseURI(storageAdapter.DirectoryResult(dir))
	if err != nil {
		return err
	}
	names, err := s.nonEmptyObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		r, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
		if err != nil {
			return fmt.Errorf("gcs store: failed to read 'gs://%s/%s': %w", bucket, name, err)
		}
		_, err = io.Copy(w, r)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes one object, or every object under a prefix.
func (s *Store) Remove(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	if !s.IsDirectory(uri) {
		if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs store: failed to delete '%s': %w", uri, err)
		}
		return nil
	}
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: key})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs store: failed to list '%s': %w", uri, err)
		}
		if err := s.client.Bucket(bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs store: failed to delete 'gs://%s/%s': %w", bucket, attrs.Name, err)
		}
	}
}

// Concatenate merges every non-empty object under srcDir into dst with the compose API.
// Batches of more than 32 sources are composed incrementally onto dst.
func (s *Store) Concatenate(ctx context.Context, srcDir, dst string) error {
	srcBucket, srcKey, err := ParseURI(srcDir)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := ParseURI(dst)
	if err != nil {
		return err
	}
	if srcBucket != dstBucket {
		return fmt.Errorf("gcs store: compose requires source and destination in one bucket")
	}
	names, err := s.nonEmptyObjects(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("gcs store: nothing to concatenate under '%s'", srcDir)
	}
	bkt := s.client.Bucket(dstBucket)
	target := bkt.Object(dstKey)
	for _, batch := range ComposeBatches(names, maxComposeSources) {
		sources := make([]*storage.ObjectHandle, 0, len(batch))
		for _, name := range batch {
			if name == "" {
				sources = append(sources, target)
				continue
			}
			sources = append(sources, bkt.Object(name))
		}
		if _, err := target.ComposerFrom(sources...).Run(ctx); err != nil {
			return fmt.Errorf("gcs store: failed to compose '%s': %w", dst, err)
		}
	}
	return nil
}

// ComposeBatches splits names into compose calls of at most limit sources.
// Every batch after the first starts with "", standing for the destination so far.
func ComposeBatches(names []string, limit int) [][]string {
	var batches [][]string
	rest := names
	first := true
	for len(rest) > 0 {
		size := limit
		var batch []string
		if !first {
			batch = append(batch, "")
			size--
		}
		if size > len(rest) {
			size = len(rest)
		}
		batch = append(batch, rest[:size]...)
		rest = rest[size:]
		batches = append(batches, batch)
		first = false
	}
	return batches
}

func (s *Store) copyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := s.client.Bucket(srcBucket).Object(srcKey)
	dst := s.client.Bucket(dstBucket).Object(dstKey)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("gcs store: failed to copy 'gs://%s/%s' to 'gs://%s/%s': %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

func (s *Store) nonEmptyObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs store: failed to list 'gs://%s/%s': %w", bucket, prefix, err)
		}
		if attrs.Size > 0 {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}
