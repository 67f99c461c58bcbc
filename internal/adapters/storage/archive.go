// Package storage provides imagery archive storage adapters.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/tessera/internal/domain"
)

// ArchiveExtension is the file extension of imagery archives.
const ArchiveExtension = ".gpkg"

// IsArchive reports whether name looks like an imagery archive.
func IsArchive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ArchiveExtension)
}

// relativeKey strips a storage prefix from an object key.
func relativeKey(key, prefix string) string {
	rel := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(rel, "/")
}

// joinKey prefixes key for the remote store.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// writeFile streams r into dest. The content is written to a temporary file
// in the destination directory and renamed into place, so an archive that is
// being opened never sees a partial download.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

type openFunc func(ctx context.Context, key string) (io.ReadCloser, error)

// fetch streams a remote archive to dest through open.
func fetch(ctx context.Context, open openFunc, key, dest string) error {
	body, err := open(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeFile(dest, body); err != nil {
		return storageError("download", key, err)
	}
	return nil
}

func storageError(op, key string, err error) error {
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

func notFound(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrArchiveNotFound, err)
}
