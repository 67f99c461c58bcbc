package geopackage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"sync"

	// Tile encodings found in GeoPackage tile tables.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
	"github.com/jobrunner/tessera/internal/projection"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// TileTable is the tile source of one GeoPackage tile table.
type TileTable struct {
	db      *sql.DB
	table   string
	pyramid pyramid.Pyramid

	once  sync.Once
	close func()
}

// Pyramid implements output.TileSource.
func (t *TileTable) Pyramid() pyramid.Pyramid {
	return t.pyramid
}

// Tile implements pyramid.Source. A tile absent from the table yields a nil
// image and no error.
func (t *TileTable) Tile(ctx context.Context, zoom, col, row int) (image.Image, error) {
	query := fmt.Sprintf(
		`SELECT tile_data FROM "%s" WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, //#nosec G201 -- table name from gpkg_contents
		t.table,
	)

	var data []byte
	err := t.db.QueryRowContext(ctx, query, zoom, col, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tile: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding tile (%d bytes): %w", len(data), err)
	}
	return img, nil
}

// Close implements output.TileSource.
func (t *TileTable) Close() error {
	t.once.Do(t.close)
	return nil
}

// tileMatrixSet is a row of gpkg_tile_matrix_set.
type tileMatrixSet struct {
	srid                   int
	minX, minY, maxX, maxY float64
}

// tileMatrix is a row of gpkg_tile_matrix.
type tileMatrix struct {
	zoom                      int
	matrixWidth, matrixHeight int
	tileWidth, tileHeight     int
	pixelX, pixelY            float64
}

func readTileMatrixSet(ctx context.Context, db *sql.DB, table string) (tileMatrixSet, error) {
	var s tileMatrixSet
	err := db.QueryRowContext(ctx, `
		SELECT srs_id, min_x, min_y, max_x, max_y
		FROM gpkg_tile_matrix_set
		WHERE table_name = ?
	`, table).Scan(&s.srid, &s.minX, &s.minY, &s.maxX, &s.maxY)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("tile matrix set %s: %w", table, domain.ErrNotFound)
	}
	if err != nil {
		return s, fmt.Errorf("reading tile matrix set: %w", err)
	}
	return s, nil
}

// readTileMatrices returns the zoom levels of a table that hold tiles, from
// coarsest to finest.
func readTileMatrices(ctx context.Context, db *sql.DB, table string) ([]tileMatrix, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT zoom_level, matrix_width, matrix_height, tile_width, tile_height,
			pixel_x_size, pixel_y_size
		FROM gpkg_tile_matrix
		WHERE table_name = ?
		ORDER BY zoom_level
	`, table)
	if err != nil {
		return nil, fmt.Errorf("reading tile matrices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matrices []tileMatrix
	for rows.Next() {
		var m tileMatrix
		if err := rows.Scan(&m.zoom, &m.matrixWidth, &m.matrixHeight,
			&m.tileWidth, &m.tileHeight, &m.pixelX, &m.pixelY); err != nil {
			return nil, fmt.Errorf("scanning tile matrix: %w", err)
		}
		matrices = append(matrices, m)
	}
	return matrices, rows.Err()
}

// readPyramid derives the addressing geometry of a tile table. Level 0 is
// the finest zoom; pixel sizes are in the units of the table's SRS.
func readPyramid(ctx context.Context, db *sql.DB, table string, dp *projection.DatasetProjection) (pyramid.Pyramid, error) {
	set, err := readTileMatrixSet(ctx, db, table)
	if err != nil {
		return pyramid.Pyramid{}, err
	}
	matrices, err := readTileMatrices(ctx, db, table)
	if err != nil {
		return pyramid.Pyramid{}, err
	}
	return buildPyramid(set, matrices, dp.Origin())
}

func buildPyramid(set tileMatrixSet, matrices []tileMatrix, origin geom.Point) (pyramid.Pyramid, error) {
	if len(matrices) == 0 {
		return pyramid.Pyramid{}, fmt.Errorf("no tile matrices: %w", domain.ErrNotFound)
	}
	coarsest, finest := matrices[0], matrices[len(matrices)-1]

	// image space runs right and down from the projection's upper-left
	p := pyramid.Pyramid{
		Width:       int64(finest.matrixWidth) * int64(finest.tileWidth),
		Height:      int64(finest.matrixHeight) * int64(finest.tileHeight),
		TileWidth:   finest.tileWidth,
		TileHeight:  finest.tileHeight,
		Levels:      finest.zoom - coarsest.zoom + 1,
		LevelOffset: coarsest.zoom,
		Origin:      geom.Pt(set.minX-origin.X, origin.Y-set.maxY),
		PixelSizeX:  finest.pixelX,
		PixelSizeY:  finest.pixelY,
	}
	if err := p.Validate(); err != nil {
		return pyramid.Pyramid{}, err
	}
	return p, nil
}
