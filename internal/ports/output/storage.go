// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage is where imagery archives live before they are cataloged.
// Keys are slash separated and relative to the configured prefix.
type ObjectStorage interface {
	// List returns every archive object.
	List(ctx context.Context) ([]StorageObject, error)

	// Download copies key to dest. dest is replaced atomically.
	Download(ctx context.Context, key string, dest string) error

	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject describes one archive in storage. LastModified drives
// reloads during sync.
type StorageObject struct {
	Key          string
	Size         int64
	LastModified int64 // unix seconds
	ETag         string
}
