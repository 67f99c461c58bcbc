package domain

import (
	"sort"
	"strings"
)

// Well-known keys of DatasetDescriptor.Extras.
const (
	ExtraAttribution  = "attribution"
	ExtraOfflineCache = "offlineCache"
	ExtraImageryType  = "imageryType"
)

// DefaultAttributionCategory is used when a dataset does not name its imagery type.
const DefaultAttributionCategory = "Imagery"

// DatasetDescriptor describes one raster dataset known to the catalog.
// Resolutions are in meters/pixel: MinResolution is the coarsest resolution
// at which the dataset should be shown and MaxResolution its native (finest)
// resolution, so MaxResolution <= MinResolution.
type DatasetDescriptor struct {
	Name          string            `json:"name"`
	URI           string            `json:"uri"`
	Provider      string            `json:"provider"`
	Bounds        GeoBounds         `json:"bounds"`
	MinResolution float64           `json:"min_resolution"`
	MaxResolution float64           `json:"max_resolution"`
	SRID          int               `json:"srid"`
	Visible       bool              `json:"visible"`
	Extras        map[string]string `json:"extras,omitempty"`
}

// Key returns the identity used to match renderables across query passes.
func (d DatasetDescriptor) Key() string {
	return d.Name
}

// Extra returns the value of an extras key.
func (d DatasetDescriptor) Extra(key string) string {
	if d.Extras == nil {
		return ""
	}
	return d.Extras[key]
}

// Attribution returns the dataset's attribution, which may be empty.
func (d DatasetDescriptor) Attribution() Attribution {
	category := d.Extra(ExtraImageryType)
	if category == "" {
		category = DefaultAttributionCategory
	}
	return Attribution{Category: category, Text: d.Extra(ExtraAttribution)}
}

// CoversResolution returns true if the resolution lies within the dataset's
// display range.
func (d DatasetDescriptor) CoversResolution(res float64) bool {
	return d.MaxResolution <= res && res <= d.MinResolution
}

// Validate checks the descriptor is usable.
func (d DatasetDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Value: d.Name, Constraint: "non-empty", Message: "dataset name is required"}
	}
	if d.MaxResolution <= 0 {
		return &ValidationError{
			Field:      "max_resolution",
			Value:      d.MaxResolution,
			Constraint: "> 0",
			Message:    "native resolution must be positive",
		}
	}
	if d.MinResolution < d.MaxResolution {
		return &ValidationError{
			Field:      "min_resolution",
			Value:      d.MinResolution,
			Constraint: ">= max_resolution",
			Message:    "coarsest resolution must not be finer than native resolution",
		}
	}
	return d.Bounds.Validate()
}

// DatasetOrder selects the ordering of catalog query results.
type DatasetOrder int

const (
	// OrderNone leaves the catalog order unspecified.
	OrderNone DatasetOrder = iota
	// OrderCoarsestFirst orders by native resolution descending, then name, then uri.
	OrderCoarsestFirst
	// OrderName orders by name.
	OrderName
)

// DatasetQuery filters a catalog query. Zero values mean "no filter".
type DatasetQuery struct {
	Bounds      *GeoBounds   // Spatial filter (intersects)
	Names       []string     // Restrict to these dataset names
	Providers   []string     // Restrict to these provider tags
	VisibleOnly bool         // Exclude hidden datasets
	MinGSD      float64      // Resolution filter, coarse end (meters/pixel)
	MaxGSD      float64      // Resolution filter, fine end (meters/pixel)
	Order       DatasetOrder // Result ordering
	Limit       int          // Maximum number of results, 0 = unlimited
}

// Matches returns true if the descriptor passes every filter except Limit.
func (q DatasetQuery) Matches(d DatasetDescriptor) bool {
	if q.VisibleOnly && !d.Visible {
		return false
	}
	if q.Bounds != nil && !q.Bounds.Intersects(d.Bounds) {
		return false
	}
	if len(q.Names) > 0 && !containsString(q.Names, d.Name) {
		return false
	}
	if len(q.Providers) > 0 && !containsString(q.Providers, d.Provider) {
		return false
	}
	if q.MinGSD > 0 && d.MaxResolution > q.MinGSD {
		return false
	}
	if q.MaxGSD > 0 && d.MinResolution < q.MaxGSD {
		return false
	}
	return true
}

// SortDatasets orders descriptors in place according to order.
func SortDatasets(datasets []DatasetDescriptor, order DatasetOrder) {
	switch order {
	case OrderCoarsestFirst:
		sort.SliceStable(datasets, func(i, j int) bool {
			return CoarserThan(datasets[i], datasets[j])
		})
	case OrderName:
		sort.SliceStable(datasets, func(i, j int) bool {
			return datasets[i].Name < datasets[j].Name
		})
	}
}

// CoarserThan reports whether a sorts before b in coarsest-first order:
// native resolution descending, then name, then uri.
func CoarserThan(a, b DatasetDescriptor) bool {
	if a.MaxResolution != b.MaxResolution {
		return a.MaxResolution > b.MaxResolution
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.URI < b.URI
}

// DatasetNames returns the names of the descriptors in order.
func DatasetNames(datasets []DatasetDescriptor) []string {
	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.Name
	}
	return names
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
