package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
)

// metersPerDegree is the length of one degree of longitude at the equator.
const metersPerDegree = 2 * math.Pi * domain.EarthRadiusMeters / 360

// ExtraTitle holds the gpkg_contents identifier of a dataset.
const ExtraTitle = "title"

var _ output.ArchiveScanner = (*Repository)(nil)

// tileContent is a row of gpkg_contents with data_type 'tiles'.
type tileContent struct {
	table       string
	identifier  string
	description string
}

// Scan implements output.ArchiveScanner. It describes every tile table of the
// archive at path whose SRS can be projected; other tables are skipped.
func (r *Repository) Scan(ctx context.Context, path string) ([]domain.DatasetDescriptor, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `
		SELECT table_name, COALESCE(identifier, ''), COALESCE(description, '')
		FROM gpkg_contents
		WHERE data_type = 'tiles'
		ORDER BY table_name
	`)
	if err != nil {
		if isMissingTable(err) {
			return nil, fmt.Errorf("%s is not a GeoPackage: %w", path, domain.ErrUnsupportedProvider)
		}
		return nil, fmt.Errorf("reading contents: %w", err)
	}

	var contents []tileContent
	for rows.Next() {
		var c tileContent
		if err := rows.Scan(&c.table, &c.identifier, &c.description); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning contents: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	archiveID := DeriveArchiveID(path)
	var datasets []domain.DatasetDescriptor
	for _, c := range contents {
		desc, err := r.describe(ctx, db, path, archiveID, c)
		if err != nil {
			r.logger.Warn("skipping tile table",
				"archive", archiveID,
				"table", c.table,
				"error", err,
			)
			continue
		}
		datasets = append(datasets, desc)
	}

	r.logger.Debug("archive scanned", "archive", archiveID, "datasets", len(datasets))
	return datasets, nil
}

func (r *Repository) describe(
	ctx context.Context,
	db *sql.DB,
	path, archiveID string,
	c tileContent,
) (domain.DatasetDescriptor, error) {
	set, err := readTileMatrixSet(ctx, db, c.table)
	if err != nil {
		return domain.DatasetDescriptor{}, err
	}
	if !r.provider.Supports(set.srid) {
		return domain.DatasetDescriptor{}, fmt.Errorf("srs %d: %w", set.srid, domain.ErrUnsupportedProjection)
	}
	matrices, err := readTileMatrices(ctx, db, c.table)
	if err != nil {
		return domain.DatasetDescriptor{}, err
	}

	dp := projection.NewDatasetProjection(r.provider, set.srid)
	p, err := buildPyramid(set, matrices, dp.Origin())
	if err != nil {
		return domain.DatasetDescriptor{}, err
	}

	ul := dp.ImageToGround(p.Origin)
	lr := dp.ImageToGround(geom.Pt(
		p.Origin.X+float64(p.Width)*p.PixelSizeX,
		p.Origin.Y+float64(p.Height)*p.PixelSizeY,
	))

	native := p.PixelSizeX
	if domain.IsPlateCarree(set.srid) {
		native *= metersPerDegree
	}

	extras := map[string]string{ExtraTable: c.table}
	if title := strings.TrimSpace(c.identifier); title != "" {
		extras[ExtraTitle] = title
	}
	if text := strings.TrimSpace(c.description); text != "" {
		extras[domain.ExtraAttribution] = text
	}

	desc := domain.DatasetDescriptor{
		Name:          DatasetName(archiveID, c.table),
		URI:           path,
		Provider:      ProviderTag,
		Bounds:        domain.NewGeoBounds(ul.Lat, ul.Lon, lr.Lat, lr.Lon),
		MaxResolution: native,
		MinResolution: math.Ldexp(native, p.Levels),
		SRID:          set.srid,
		Visible:       true,
		Extras:        extras,
	}
	return desc, desc.Validate()
}
