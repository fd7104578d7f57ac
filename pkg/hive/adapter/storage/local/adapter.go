// Package local provides a local file system implementation of the object store.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this local storage provider.
	ProviderType = "local"
	// Scheme is the URI scheme served by the local store.
	Scheme = "file"
)

// Store implements storage.Store over the local file system.
// Locations may be plain paths or file:// URIs.
type Store struct {
	cfg storageAdapter.Config
}

// Verify that Store implements the storage.Store interface.
var _ storageAdapter.Store = (*Store)(nil)

// NewStore creates a local Store. When cfg.BaseDir is set it is created if missing
// and every resolved path must stay inside it.
func NewStore(cfg storageAdapter.Config) (*Store, error) {
	if cfg.BaseDir != "" {
		info, err := os.Stat(cfg.BaseDir)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("local store: failed to stat BaseDir '%s': %w", cfg.BaseDir, err)
			}
			if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
				return nil, fmt.Errorf("local store: failed to create BaseDir '%s': %w", cfg.BaseDir, err)
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("local store: BaseDir '%s' is not a directory", cfg.BaseDir)
		}
	}
	return &Store{cfg: cfg}, nil
}

// Scheme returns "file".
func (s *Store) Scheme() string { return Scheme }

// IsDirectory reports whether uri ends with "/".
func (s *Store) IsDirectory(uri string) bool { return storageAdapter.IsDirectory(uri) }

// ParseURI returns an empty bucket and the resolved path as key.
func (s *Store) ParseURI(uri string) (string, string, error) {
	p, err := s.resolvePath(uri)
	if err != nil {
		return "", "", err
	}
	return "", p, nil
}

// Copy copies a file, or every non-empty file under a directory to dst+index.
func (s *Store) Copy(ctx context.Context, src, dst string) (string, error) {
	srcPath, err := s.resolvePath(src)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path for copy: %w", err)
	}
	if !s.IsDirectory(src) {
		dstPath, err := s.resolvePath(dst)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path for copy: %w", err)
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return "", err
		}
		logger.Debugf("Copied '%s' to '%s' (local store).", srcPath, dstPath)
		return dst, nil
	}

	files, err := s.NonEmptyFiles(ctx, src)
	if err != nil {
		return "", err
	}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dstPath, err := s.resolvePath(dst + strconv.Itoa(i))
		if err != nil {
			return "", fmt.Errorf("failed to resolve path for copy: %w", err)
		}
		if err := copyFile(f, dstPath); err != nil {
			return "", err
		}
	}
	logger.Debugf("Copied %d files from '%s' to '%s' (local store).", len(files), srcPath, dst)
	return storageAdapter.DirectoryResult(dst), nil
}

// Upload copies the local file localPath to dst.
func (s *Store) Upload(ctx context.Context, localPath, dst string) error {
	dstPath, err := s.resolvePath(dst)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}
	return copyFile(localPath, dstPath)
}

// NonEmptyFiles returns the non-empty regular files under dir, sorted by path.
func (s *Store) NonEmptyFiles(ctx context.Context, dir string) ([]string, error) {
	basePath, err := s.resolvePath(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path for listing: %w", err)
	}
	var files []string
	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in '%s': %w", basePath, err)
	}
	sort.Strings(files)
	return files, nil
}

// Cat writes every non-empty file under dir to w.
func (s *Store) Cat(ctx context.Context, dir string, w io.Writer) error {
	files, err := s.NonEmptyFiles(ctx, storageAdapter.DirectoryResult(dir))
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := catFile(f, w); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes uri and everything under it. A missing path is not an error.
func (s *Store) Remove(ctx context.Context, uri string) error {
	p, err := s.resolvePath(uri)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to delete '%s': %w", p, err)
	}
	logger.Debugf("Deleted '%s' (local store).", p)
	return nil
}

// resolvePath strips the file:// scheme and, with a BaseDir, resolves relative paths
// under it and rejects paths that escape it.
func (s *Store) resolvePath(uri string) (string, error) {
	p := strings.TrimPrefix(uri, "file://")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	baseDir := s.cfg.BaseDir
	if baseDir == "" {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", baseDir, err)
	}
	absFullPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", p, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s'", p, baseDir)
	}
	return absFullPath, nil
}

func copyFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file '%s': %w", srcPath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", filepath.Dir(dstPath), err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", dstPath, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write data to file '%s': %w", dstPath, err)
	}
	return out.Close()
}

func catFile(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file '%s': %w", path, err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
