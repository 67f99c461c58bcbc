package output

import (
	"context"
	"fmt"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// DataStore defines the secondary port the imagery layers query for datasets.
type DataStore interface {
	// QueryDatasets returns the datasets matching the query.
	QueryDatasets(ctx context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error)

	// Subscribe registers fn to be called whenever the store content changes.
	// The returned function removes the subscription.
	Subscribe(fn func()) (unsubscribe func())
}

// Catalog is a writable DataStore keyed by archive.
type Catalog interface {
	DataStore

	// ReplaceArchive stores the datasets of an archive, replacing any
	// previous content of that archive.
	ReplaceArchive(ctx context.Context, archiveID string, datasets []domain.DatasetDescriptor) error

	// RemoveArchive deletes all datasets of an archive.
	RemoveArchive(ctx context.Context, archiveID string) error

	// GetDataset returns a dataset by name.
	GetDataset(ctx context.Context, name string) (*domain.DatasetDescriptor, error)

	// SetVisible toggles dataset visibility.
	SetVisible(ctx context.Context, name string, visible bool) error

	// CountDatasets returns the number of cataloged datasets.
	CountDatasets(ctx context.Context) (int, error)

	// Close releases the catalog.
	Close() error
}

// TileSource defines the secondary port for reading tiles of one dataset.
type TileSource interface {
	pyramid.Source

	// Pyramid returns the tile geometry of the source.
	Pyramid() pyramid.Pyramid

	// Close releases the source.
	Close() error
}

// TileSourceFactory opens tile sources for datasets.
type TileSourceFactory interface {
	Open(ctx context.Context, desc domain.DatasetDescriptor) (TileSource, error)
}

// TileSourceFactories dispatches Open by the dataset's provider tag.
type TileSourceFactories map[string]TileSourceFactory

// Open implements TileSourceFactory.
func (f TileSourceFactories) Open(ctx context.Context, desc domain.DatasetDescriptor) (TileSource, error) {
	factory, ok := f[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", desc.Provider, domain.ErrUnsupportedProvider)
	}
	return factory.Open(ctx, desc)
}

// ArchiveScanner discovers the datasets stored in an archive file.
type ArchiveScanner interface {
	Scan(ctx context.Context, path string) ([]domain.DatasetDescriptor, error)
}
