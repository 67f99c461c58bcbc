// Package catalog provides the SQLite dataset catalog.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
)

// MemoryPath opens a transient in-memory catalog.
const MemoryPath = ":memory:"

// Catalog is a SQLite-backed dataset catalog with an R*Tree index over
// dataset bounds.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func()
	nextSub     int
}

var _ output.Catalog = (*Catalog)(nil)

// Open opens or creates the catalog at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	if path == MemoryPath {
		dsn = "file::memory:"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// SQLite serializes writers; a single connection also keeps an
	// in-memory catalog alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	logger.Info("catalog opened", "path", path)
	return &Catalog{
		db:          db,
		logger:      logger,
		subscribers: make(map[int]func()),
	}, nil
}

// Close implements output.Catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Subscribe implements output.DataStore.
func (c *Catalog) Subscribe(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Catalog) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// QueryDatasets implements output.DataStore.
func (c *Catalog) QueryDatasets(ctx context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error) {
	var (
		where []string
		args  []any
	)
	from := "datasets d"

	if b := q.Bounds; b != nil {
		from += " JOIN datasets_rtree r ON r.id = d.id"
		// R*Tree coordinates are rounded outward, the column test is exact.
		where = append(where,
			"r.min_x <= ? AND r.max_x >= ? AND r.min_y <= ? AND r.max_y >= ?",
			"d.west <= ? AND d.east >= ? AND d.south <= ? AND d.north >= ?",
		)
		args = append(args,
			b.East, b.West, b.North, b.South,
			b.East, b.West, b.North, b.South,
		)
	}
	if q.VisibleOnly {
		where = append(where, "d.visible = 1")
	}
	if len(q.Names) > 0 {
		where = append(where, "d.name IN ("+placeholders(len(q.Names))+")")
		for _, n := range q.Names {
			args = append(args, n)
		}
	}
	if len(q.Providers) > 0 {
		where = append(where, "d.provider IN ("+placeholders(len(q.Providers))+")")
		for _, p := range q.Providers {
			args = append(args, p)
		}
	}
	if q.MinGSD > 0 {
		where = append(where, "d.max_resolution <= ?")
		args = append(args, q.MinGSD)
	}
	if q.MaxGSD > 0 {
		where = append(where, "d.min_resolution >= ?")
		args = append(args, q.MaxGSD)
	}

	query := "SELECT " + datasetColumns + " FROM " + from
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch q.Order {
	case domain.OrderCoarsestFirst:
		query += " ORDER BY d.max_resolution DESC, d.name, d.uri"
	case domain.OrderName:
		query += " ORDER BY d.name"
	default:
		query += " ORDER BY d.id"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.QueryError{Query: "datasets", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var datasets []domain.DatasetDescriptor
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, &domain.QueryError{Query: "datasets", Err: err}
		}
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.QueryError{Query: "datasets", Err: err}
	}
	return datasets, nil
}

// GetDataset implements output.Catalog.
func (c *Catalog) GetDataset(ctx context.Context, name string) (*domain.DatasetDescriptor, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+datasetColumns+" FROM datasets d WHERE d.name = ?", name)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, &domain.QueryError{Query: "dataset " + name, Err: err}
	}
	return &d, nil
}

// CountDatasets implements output.Catalog.
func (c *Catalog) CountDatasets(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&n); err != nil {
		return 0, &domain.QueryError{Query: "count", Err: err}
	}
	return n, nil
}

// SetVisible implements output.Catalog.
func (c *Catalog) SetVisible(ctx context.Context, name string, visible bool) error {
	res, err := c.db.ExecContext(ctx, "UPDATE datasets SET visible = ? WHERE name = ?", visible, name)
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, domain.ErrDatasetNotFound)
	}

	c.notify()
	return nil
}

// ReplaceArchive implements output.Catalog. Visibility chosen for a dataset
// that is still present survives the replacement.
func (c *Catalog) ReplaceArchive(ctx context.Context, archiveID string, datasets []domain.DatasetDescriptor) error {
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		hidden, err := hiddenDatasets(ctx, tx, archiveID)
		if err != nil {
			return err
		}
		if err := deleteDatasets(ctx, tx, "archive = ?", archiveID); err != nil {
			return err
		}

		for _, d := range datasets {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("dataset %s: %w", d.Name, err)
			}
			if err := deleteDatasets(ctx, tx, "name = ?", d.Name); err != nil {
				return err
			}
			if hidden[d.Name] {
				d.Visible = false
			}
			if err := insertDataset(ctx, tx, archiveID, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing archive %s: %w", archiveID, err)
	}

	c.logger.Debug("archive cataloged", "archive", archiveID, "datasets", len(datasets))
	c.notify()
	return nil
}

// RemoveArchive implements output.Catalog.
func (c *Catalog) RemoveArchive(ctx context.Context, archiveID string) error {
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		return deleteDatasets(ctx, tx, "archive = ?", archiveID)
	})
	if err != nil {
		return fmt.Errorf("removing archive %s: %w", archiveID, err)
	}

	c.notify()
	return nil
}

func (c *Catalog) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func hiddenDatasets(ctx context.Context, tx *sql.Tx, archiveID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM datasets WHERE archive = ? AND visible = 0", archiveID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hidden := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		hidden[name] = true
	}
	return hidden, rows.Err()
}

func deleteDatasets(ctx context.Context, tx *sql.Tx, cond string, args ...any) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM datasets_rtree WHERE id IN (SELECT id FROM datasets WHERE "+cond+")", args...); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM datasets WHERE "+cond, args...)
	return err
}

func insertDataset(ctx context.Context, tx *sql.Tx, archiveID string, d domain.DatasetDescriptor) error {
	extras := []byte("{}")
	if len(d.Extras) > 0 {
		var err error
		if extras, err = json.Marshal(d.Extras); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (name, archive, uri, provider, north, west, south, east,
			min_resolution, max_resolution, srid, visible, extras)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, archiveID, d.URI, d.Provider,
		d.Bounds.North, d.Bounds.West, d.Bounds.South, d.Bounds.East,
		d.MinResolution, d.MaxResolution, d.SRID, d.Visible, string(extras),
	)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", d.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	east := d.Bounds.East
	if east < d.Bounds.West {
		east += 360
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO datasets_rtree (id, min_x, max_x, min_y, max_y) VALUES (?, ?, ?, ?, ?)",
		id, d.Bounds.West, east, d.Bounds.South, d.Bounds.North,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(s scanner) (domain.DatasetDescriptor, error) {
	var (
		d      domain.DatasetDescriptor
		extras string
	)
	err := s.Scan(
		&d.Name, &d.URI, &d.Provider,
		&d.Bounds.North, &d.Bounds.West, &d.Bounds.South, &d.Bounds.East,
		&d.MinResolution, &d.MaxResolution, &d.SRID, &d.Visible, &extras,
	)
	if err != nil {
		return d, err
	}
	if extras != "" && extras != "{}" {
		if err := json.Unmarshal([]byte(extras), &d.Extras); err != nil {
			return d, fmt.Errorf("extras of %s: %w", d.Name, err)
		}
	}
	return d, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
