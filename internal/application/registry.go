// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
	"github.com/jobrunner/tessera/internal/ports/output"
)

// bitmapCache drops memoized bitmaps of a dataset.
type bitmapCache interface {
	Purge(dataset string)
}

// ArchiveRegistry keeps the catalog in step with the imagery archives.
type ArchiveRegistry struct {
	mu        sync.RWMutex
	archives  map[string]*archiveEntry
	scanner   output.ArchiveScanner
	catalog   output.Catalog
	storage   output.ObjectStorage
	cache     bitmapCache
	metrics   output.MetricsCollector
	logger    *slog.Logger
	localPath string
}

type archiveEntry struct {
	Archive  *domain.Archive
	Status   domain.ArchiveStatus
	Error    error
	Key      string // storage key, empty for archives loaded by path
	Modified int64  // storage modification time of the loaded copy
}

var _ input.ArchiveRegistry = (*ArchiveRegistry)(nil)

// NewArchiveRegistry creates a new archive registry. Remote archives are
// downloaded below localPath. cache may be nil.
func NewArchiveRegistry(
	scanner output.ArchiveScanner,
	catalog output.Catalog,
	storage output.ObjectStorage,
	cache bitmapCache,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
) *ArchiveRegistry {
	return &ArchiveRegistry{
		archives:  make(map[string]*archiveEntry),
		scanner:   scanner,
		catalog:   catalog,
		storage:   storage,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		localPath: localPath,
	}
}

// LoadArchive scans the archive at path and catalogs its datasets, replacing
// whatever an earlier load of the same archive contributed.
func (r *ArchiveRegistry) LoadArchive(ctx context.Context, path string) error {
	return r.load(ctx, path, "", 0)
}

func (r *ArchiveRegistry) load(ctx context.Context, path, key string, modified int64) error {
	id := deriveArchiveID(path)
	r.logger.Info("loading archive", "id", id, "path", path)

	r.mu.Lock()
	previous := r.archives[id]
	entry := &archiveEntry{
		Archive:  &domain.Archive{ID: id, Path: path},
		Status:   domain.StatusLoading,
		Key:      key,
		Modified: modified,
	}
	r.archives[id] = entry
	r.mu.Unlock()

	err := r.catalogArchive(ctx, entry.Archive)

	r.mu.Lock()
	switch {
	case err == nil:
		entry.Status = domain.StatusReady
	case previous != nil && previous.Status == domain.StatusReady:
		// the catalog still holds the previous content
		r.archives[id] = previous
	default:
		entry.Status = domain.StatusError
		entry.Error = err
	}
	r.mu.Unlock()

	if err != nil {
		r.updateMetrics(ctx)
		r.logger.Error("failed to load archive", "id", id, "path", path, "error", err)
		return err
	}

	if previous != nil {
		r.purge(previous.Archive.Datasets)
	}
	r.updateMetrics(ctx)
	r.logger.Info("archive loaded", "id", id, "datasets", entry.Archive.DatasetCount())
	return nil
}

// catalogArchive fills in a and writes its datasets to the catalog.
func (r *ArchiveRegistry) catalogArchive(ctx context.Context, a *domain.Archive) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", a.Path, domain.ErrArchiveNotFound)
		}
		return err
	}

	datasets, err := r.scanner.Scan(ctx, a.Path)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", a.Path, err)
	}
	if err := r.catalog.ReplaceArchive(ctx, a.ID, datasets); err != nil {
		return fmt.Errorf("cataloging %s: %w", a.ID, err)
	}

	a.Size = info.Size()
	a.Datasets = datasets
	a.LoadedAt = time.Now()
	return nil
}

// UnloadArchive removes an archive and its datasets.
func (r *ArchiveRegistry) UnloadArchive(ctx context.Context, id string) error {
	r.logger.Info("unloading archive", "id", id)

	r.mu.Lock()
	entry, ok := r.archives[id]
	if ok {
		entry.Status = domain.StatusUnloading
	}
	r.mu.Unlock()

	if err := r.catalog.RemoveArchive(ctx, id); err != nil {
		r.logger.Error("failed to remove archive from catalog", "id", id, "error", err)
		return err
	}

	r.mu.Lock()
	delete(r.archives, id)
	r.mu.Unlock()

	if ok {
		r.purge(entry.Archive.Datasets)
	}
	r.updateMetrics(ctx)
	return nil
}

// UnloadPath removes the archive stored at path, if any.
func (r *ArchiveRegistry) UnloadPath(ctx context.Context, path string) error {
	id := deriveArchiveID(path)
	r.mu.RLock()
	entry, ok := r.archives[id]
	r.mu.RUnlock()
	if !ok || filepath.Clean(entry.Archive.Path) != filepath.Clean(path) {
		return nil
	}
	return r.UnloadArchive(ctx, id)
}

func (r *ArchiveRegistry) purge(datasets []domain.DatasetDescriptor) {
	if r.cache == nil {
		return
	}
	for _, d := range datasets {
		r.cache.Purge(d.Key())
	}
}

// ListArchives returns all registered archives ordered by ID.
func (r *ArchiveRegistry) ListArchives(_ context.Context) ([]domain.Archive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	archives := make([]domain.Archive, 0, len(r.archives))
	for _, entry := range r.archives {
		archives = append(archives, *entry.Archive)
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].ID < archives[j].ID })
	return archives, nil
}

// GetArchive returns a specific archive by ID.
func (r *ArchiveRegistry) GetArchive(_ context.Context, id string) (*domain.Archive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.archives[id]
	if !ok {
		return nil, domain.ErrArchiveNotFound
	}
	a := *entry.Archive
	return &a, nil
}

// GetArchiveStatus returns the status of an archive.
func (r *ArchiveRegistry) GetArchiveStatus(_ context.Context, id string) (domain.ArchiveStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.archives[id]
	if !ok {
		return "", domain.ErrArchiveNotFound
	}
	return entry.Status, nil
}

// IsLoaded returns true if the archive with the given ID is cataloged.
func (r *ArchiveRegistry) IsLoaded(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.archives[id]
	return ok && entry.Status == domain.StatusReady
}

// ArchiveCount returns the number of registered archives.
func (r *ArchiveRegistry) ArchiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archives)
}

// ReadyCount returns the number of cataloged archives.
func (r *ArchiveRegistry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ready := 0
	for _, entry := range r.archives {
		if entry.Status == domain.StatusReady {
			ready++
		}
	}
	return ready
}

func (r *ArchiveRegistry) updateMetrics(ctx context.Context) {
	r.metrics.SetArchivesLoaded(r.ReadyCount())
	if n, err := r.catalog.CountDatasets(ctx); err == nil {
		r.metrics.SetDatasetsLoaded(n)
	}
}

// LoadAll downloads and loads every archive in storage.
func (r *ArchiveRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all archives from storage")

	objects, err := r.storage.List(ctx)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		if err := r.fetch(ctx, obj); err != nil {
			r.logger.Error("failed to load archive", "key", obj.Key, "error", err)
		}
	}
	return nil
}

// fetch downloads an archive into the local path and loads it.
func (r *ArchiveRegistry) fetch(ctx context.Context, obj output.StorageObject) error {
	localPath := r.localFile(obj.Key)
	if err := r.storage.Download(ctx, obj.Key, localPath); err != nil {
		return err
	}
	return r.load(ctx, localPath, obj.Key, obj.LastModified)
}

func (r *ArchiveRegistry) localFile(key string) string {
	return filepath.Join(r.localPath, filepath.FromSlash(key))
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Updated int
	Removed int
}

// Sync synchronizes with storage: new archives are downloaded and loaded,
// archives modified since their load are reloaded, and archives no longer in
// storage are unloaded and their local copy deleted.
func (r *ArchiveRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing archives from storage")

	objects, err := r.storage.List(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	remote := make(map[string]output.StorageObject, len(objects))
	for _, obj := range objects {
		remote[deriveArchiveID(obj.Key)] = obj
	}

	stats := SyncStats{}
	for id, obj := range remote {
		loaded, modified := r.loadedVersion(id)
		if loaded && (obj.LastModified == 0 || obj.LastModified <= modified) {
			continue
		}

		if err := r.fetch(ctx, obj); err != nil {
			r.logger.Error("failed to sync archive", "key", obj.Key, "error", err)
			continue
		}
		if loaded {
			stats.Updated++
			r.logger.Info("archive updated", "id", id)
		} else {
			stats.Added++
			r.logger.Info("new archive synced", "id", id)
		}
	}

	for _, id := range r.findArchivesToRemove(remote) {
		r.logger.Info("removing archive not in storage", "id", id)

		localPath := r.archivePath(id)
		if err := r.UnloadArchive(ctx, id); err != nil {
			r.logger.Error("failed to unload removed archive", "id", id, "error", err)
			continue
		}

		if localPath != "" {
			if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
				r.logger.Warn("failed to delete local copy", "path", localPath, "error", err)
			} else {
				r.logger.Debug("deleted local copy", "path", localPath)
			}
		}
		stats.Removed++
	}

	r.logger.Info("sync completed",
		"added", stats.Added,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"total", r.ArchiveCount(),
	)
	return stats, nil
}

// loadedVersion reports whether id is cataloged and the storage modification
// time of its loaded copy.
func (r *ArchiveRegistry) loadedVersion(id string) (bool, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.archives[id]
	if !ok || entry.Status != domain.StatusReady {
		return false, 0
	}
	return true, entry.Modified
}

// findArchivesToRemove returns archives fetched from storage that storage no
// longer lists.
func (r *ArchiveRegistry) findArchivesToRemove(remote map[string]output.StorageObject) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for id, entry := range r.archives {
		if entry.Key == "" {
			continue
		}
		if _, exists := remote[id]; !exists {
			toRemove = append(toRemove, id)
		}
	}
	sort.Strings(toRemove)
	return toRemove
}

func (r *ArchiveRegistry) archivePath(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.archives[id]; ok && entry.Archive != nil {
		return entry.Archive.Path
	}
	return ""
}

// deriveArchiveID extracts an archive ID from a file path or object key.
func deriveArchiveID(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
