// Package router dispatches object store calls to the store registered for a URI's scheme,
// and bridges copies from the local file system into a remote store.
package router

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/hashicorp/go-multierror"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const moduleName = "storage"

// fileLister is implemented by the local store.
type fileLister interface {
	NonEmptyFiles(ctx context.Context, dir string) ([]string, error)
}

// Router is a storage.Store over several stores keyed by scheme.
type Router struct {
	stores map[string]storageAdapter.Store
}

var (
	_ storageAdapter.Store = (*Router)(nil)
	_ port.Concatenator    = (*Router)(nil)
)

// New creates a Router serving every given store.
func New(stores ...storageAdapter.Store) *Router {
	r := &Router{stores: make(map[string]storageAdapter.Store, len(stores))}
	for _, s := range stores {
		r.stores[s.Scheme()] = s
	}
	return r
}

// Scheme returns an empty string; a Router serves several schemes.
func (r *Router) Scheme() string { return "" }

func (r *Router) storeFor(uri string) (storageAdapter.Store, error) {
	scheme := storageAdapter.SchemeOf(uri)
	s, ok := r.stores[scheme]
	if !ok {
		return nil, exception.NewConfigurationErrorf(moduleName, "no object store configured for scheme %q (%s)", scheme, uri)
	}
	return s, nil
}

// IsDirectory reports whether uri ends with "/".
func (r *Router) IsDirectory(uri string) bool { return storageAdapter.IsDirectory(uri) }

// ParseURI delegates to the store for uri's scheme.
func (r *Router) ParseURI(uri string) (string, string, error) {
	s, err := r.storeFor(uri)
	if err != nil {
		return "", "", err
	}
	return s.ParseURI(uri)
}

// Copy copies within one store, or uploads local files when src is on the local file system
// and dst is remote.
func (r *Router) Copy(ctx context.Context, src, dst string) (string, error) {
	srcStore, err := r.storeFor(src)
	if err != nil {
		return "", err
	}
	dstStore, err := r.storeFor(dst)
	if err != nil {
		return "", err
	}
	if srcStore.Scheme() == dstStore.Scheme() {
		return dstStore.Copy(ctx, src, dst)
	}
	lister, ok := srcStore.(fileLister)
	if !ok {
		return "", exception.NewConfigurationErrorf(moduleName, "cannot copy from %s to %s", srcStore.Scheme(), dstStore.Scheme())
	}
	if !storageAdapter.IsDirectory(src) {
		if err := dstStore.Upload(ctx, src, dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	files, err := lister.NonEmptyFiles(ctx, src)
	if err != nil {
		return "", err
	}
	for i, f := range files {
		if err := dstStore.Upload(ctx, f, dst+strconv.Itoa(i)); err != nil {
			return "", err
		}
	}
	return storageAdapter.DirectoryResult(dst), nil
}

// Upload delegates to the store for dst's scheme.
func (r *Router) Upload(ctx context.Context, localPath, dst string) error {
	s, err := r.storeFor(dst)
	if err != nil {
		return err
	}
	return s.Upload(ctx, localPath, dst)
}

// Cat delegates to the store for dir's scheme.
func (r *Router) Cat(ctx context.Context, dir string, w io.Writer) error {
	s, err := r.storeFor(dir)
	if err != nil {
		return err
	}
	return s.Cat(ctx, dir, w)
}

// Remove delegates to the store for uri's scheme.
func (r *Router) Remove(ctx context.Context, uri string) error {
	s, err := r.storeFor(uri)
	if err != nil {
		return err
	}
	return s.Remove(ctx, uri)
}

// Concatenate delegates to the destination store when it supports merging.
func (r *Router) Concatenate(ctx context.Context, srcDir, dst string) error {
	s, err := r.storeFor(dst)
	if err != nil {
		return err
	}
	c, ok := s.(port.Concatenator)
	if !ok {
		return fmt.Errorf("object store %q cannot concatenate objects", s.Scheme())
	}
	return c.Concatenate(ctx, srcDir, dst)
}

// Close closes every registered store that holds a client.
func (r *Router) Close() error {
	var result *multierror.Error
	for _, s := range r.stores {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
