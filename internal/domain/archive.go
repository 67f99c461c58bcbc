package domain

import "time"

// Archive represents a registered imagery archive file holding one or more
// raster datasets.
type Archive struct {
	ID       string              // Unique identifier (derived from filename)
	Path     string              // Local file path
	Size     int64               // File size in bytes
	Datasets []DatasetDescriptor // Datasets found in the archive
	LoadedAt time.Time           // Load timestamp
}

// DatasetCount returns the number of datasets in the archive.
func (a *Archive) DatasetCount() int {
	return len(a.Datasets)
}

// GetDataset returns a dataset by name.
func (a *Archive) GetDataset(name string) (*DatasetDescriptor, bool) {
	for i := range a.Datasets {
		if a.Datasets[i].Name == name {
			return &a.Datasets[i], true
		}
	}
	return nil, false
}

// ArchiveStatus represents the status of an archive.
type ArchiveStatus string

const (
	StatusLoading   ArchiveStatus = "loading"
	StatusReady     ArchiveStatus = "ready"
	StatusError     ArchiveStatus = "error"
	StatusUnloading ArchiveStatus = "unloading"
)
