package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/tessera/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a local directory of archives.
type LocalStorage struct {
	basePath string
}

var _ output.ObjectStorage = (*LocalStorage)(nil)

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all archives below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsArchive(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          rel,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, storageError("list", s.basePath, err)
	}

	return objects, nil
}

// Download copies an archive to dest. Downloading onto itself is a no-op.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	src := s.FullPath(key)
	if filepath.Clean(src) == filepath.Clean(dest) {
		return nil
	}

	f, err := os.Open(src) //#nosec G304 -- key is listed from basePath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = notFound(err)
		}
		return storageError("download", key, err)
	}
	defer func() { _ = f.Close() }()

	if err := writeFile(dest, f); err != nil {
		return storageError("download", key, err)
	}
	return nil
}

// GetReader returns a reader for the given archive.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- key is listed from basePath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = notFound(err)
		}
		return nil, storageError("read", key, err)
	}
	return f, nil
}

// Exists checks if an archive exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageError("stat", key, err)
	}
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, key)
}

// BasePath returns the storage directory.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}
