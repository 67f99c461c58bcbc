// Package geopackage reads raster tile pyramids from OGC GeoPackage archives.
package geopackage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
)

// ProviderTag is the DatasetDescriptor provider of GeoPackage datasets.
const ProviderTag = "gpkg"

// ExtraTable names the tile table of a dataset in DatasetDescriptor.Extras.
const ExtraTable = "table"

// conn is a shared read-only connection to one archive.
type conn struct {
	db   *sql.DB
	refs int
}

// Repository opens GeoPackage tile tables. Tile sources of the same archive
// share one connection, which is closed with the last source.
type Repository struct {
	mu          sync.Mutex
	connections map[string]*conn
	provider    *projection.Provider
	logger      *slog.Logger
}

// NewRepository creates a new GeoPackage repository.
func NewRepository(provider *projection.Provider, logger *slog.Logger) *Repository {
	return &Repository{
		connections: make(map[string]*conn),
		provider:    provider,
		logger:      logger,
	}
}

var _ output.TileSourceFactory = (*Repository)(nil)

// Open implements output.TileSourceFactory.
func (r *Repository) Open(ctx context.Context, desc domain.DatasetDescriptor) (output.TileSource, error) {
	table := desc.Extra(ExtraTable)
	if table == "" {
		return nil, &domain.ValidationError{
			Field:      "extras.table",
			Value:      desc.Name,
			Constraint: "non-empty",
			Message:    "dataset does not name a tile table",
		}
	}

	db, err := r.acquire(ctx, desc.URI)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: desc.URI, Err: err}
	}

	p, err := readPyramid(ctx, db, table, projection.NewDatasetProjection(r.provider, desc.SRID))
	if err != nil {
		r.release(desc.URI)
		return nil, fmt.Errorf("dataset %s: %w", desc.Name, err)
	}

	return &TileTable{
		db:      db,
		table:   table,
		pyramid: p,
		close:   func() { r.release(desc.URI) },
	}, nil
}

// OpenConnections returns the number of archives with an open connection.
func (r *Repository) OpenConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Close closes every connection regardless of outstanding sources.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for path, c := range r.connections {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.connections, path)
	}
	return errors.Join(errs...)
}

func (r *Repository) acquire(ctx context.Context, path string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connections[path]; ok {
		c.refs++
		return c.db, nil
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	r.connections[path] = &conn{db: db, refs: 1}
	r.logger.Debug("archive connection opened", "path", path)
	return db, nil
}

func (r *Repository) release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[path]
	if !ok {
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	if err := c.db.Close(); err != nil {
		r.logger.Warn("failed to close archive", "path", path, "error", err)
	}
	delete(r.connections, path)
	r.logger.Debug("archive connection closed", "path", path)
}

// openDB opens an archive read-only.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// isMissingTable reports whether err is SQLite complaining about a missing
// table, which marks a file that is not a GeoPackage.
func isMissingTable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrError {
		return strings.Contains(sqliteErr.Error(), "no such table")
	}
	return false
}

// DeriveArchiveID derives an archive ID from the file path.
// It extracts the filename without extension as the archive identifier.
func DeriveArchiveID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// DatasetName returns the catalog name of a tile table. Tables named like
// their archive keep the archive ID alone.
func DatasetName(archiveID, table string) string {
	if table == "" || strings.EqualFold(table, archiveID) {
		return archiveID
	}
	return archiveID + ":" + table
}
