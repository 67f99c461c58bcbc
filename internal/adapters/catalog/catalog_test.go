package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jobrunner/tessera/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func dataset(name string, native float64, bounds domain.GeoBounds) domain.DatasetDescriptor {
	return domain.DatasetDescriptor{
		Name:          name,
		URI:           "/data/" + name + ".gpkg",
		Provider:      "gpkg",
		Bounds:        bounds,
		MaxResolution: native,
		MinResolution: native * 16,
		SRID:          domain.SRIDWGS84,
		Visible:       true,
		Extras:        map[string]string{domain.ExtraAttribution: "(c) " + name},
	}
}

// seed catalogs three datasets: a coarse world layer and two fine regional
// layers east and west of Greenwich.
func seed(t *testing.T, c *Catalog) {
	t.Helper()
	ctx := context.Background()
	if err := c.ReplaceArchive(ctx, "world", []domain.DatasetDescriptor{
		dataset("world", 1000, domain.NewGeoBounds(90, -180, -90, 180)),
	}); err != nil {
		t.Fatalf("ReplaceArchive(world) error = %v", err)
	}
	if err := c.ReplaceArchive(ctx, "regions", []domain.DatasetDescriptor{
		dataset("regions:east", 1, domain.NewGeoBounds(50, 5, 45, 15)),
		dataset("regions:west", 1, domain.NewGeoBounds(50, -15, 45, -5)),
	}); err != nil {
		t.Fatalf("ReplaceArchive(regions) error = %v", err)
	}
}

func names(datasets []domain.DatasetDescriptor) []string {
	return domain.DatasetNames(datasets)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryDatasets(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)

	east := domain.NewGeoBounds(48, 8, 46, 10)
	none := domain.NewGeoBounds(-40, 100, -50, 110)

	tests := []struct {
		name  string
		query domain.DatasetQuery
		want  []string
	}{
		{
			name:  "all coarsest first",
			query: domain.DatasetQuery{Order: domain.OrderCoarsestFirst},
			want:  []string{"world", "regions:east", "regions:west"},
		},
		{
			name:  "spatial filter",
			query: domain.DatasetQuery{Bounds: &east, Order: domain.OrderCoarsestFirst},
			want:  []string{"world", "regions:east"},
		},
		{
			name:  "spatial filter outside regions",
			query: domain.DatasetQuery{Bounds: &none},
			want:  []string{"world"},
		},
		{
			name:  "names filter",
			query: domain.DatasetQuery{Names: []string{"regions:west", "missing"}},
			want:  []string{"regions:west"},
		},
		{
			name:  "limit",
			query: domain.DatasetQuery{Order: domain.OrderName, Limit: 2},
			want:  []string{"regions:east", "regions:west"},
		},
		{
			name:  "fine resolution filter",
			query: domain.DatasetQuery{MinGSD: 10, Order: domain.OrderName},
			want:  []string{"regions:east", "regions:west"},
		},
		{
			name:  "coarse resolution filter",
			query: domain.DatasetQuery{MaxGSD: 100, Order: domain.OrderName},
			want:  []string{"world"},
		},
		{
			name:  "provider filter",
			query: domain.DatasetQuery{Providers: []string{"wms"}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.QueryDatasets(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("QueryDatasets() error = %v", err)
			}
			if !equal(names(got), tt.want) {
				t.Errorf("QueryDatasets() = %v, want %v", names(got), tt.want)
			}
		})
	}
}

func TestQueryMatchesDomainFilter(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)

	all, err := c.QueryDatasets(context.Background(), domain.DatasetQuery{})
	if err != nil {
		t.Fatalf("QueryDatasets() error = %v", err)
	}
	domain.SortDatasets(all, domain.OrderName)

	windows := []domain.GeoBounds{
		domain.NewGeoBounds(50, 15, 45, 20), // touches east edge
		domain.NewGeoBounds(44.999, -4.9, 40, 4.9),
		domain.NewGeoBounds(90, 170, -90, 180),
	}
	for _, w := range windows {
		q := domain.DatasetQuery{Bounds: &w, Order: domain.OrderName}
		got, err := c.QueryDatasets(context.Background(), q)
		if err != nil {
			t.Fatalf("QueryDatasets() error = %v", err)
		}
		var want []string
		for _, d := range all {
			if q.Matches(d) {
				want = append(want, d.Name)
			}
		}
		if !equal(names(got), want) {
			t.Errorf("window %+v: got %v, want %v", w, names(got), want)
		}
	}
}

func TestGetDataset(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)

	d, err := c.GetDataset(context.Background(), "regions:east")
	if err != nil {
		t.Fatalf("GetDataset() error = %v", err)
	}
	if d.URI != "/data/regions:east.gpkg" || d.MaxResolution != 1 || d.MinResolution != 16 || !d.Visible {
		t.Errorf("GetDataset() = %+v", d)
	}
	if d.Attribution().Text != "(c) regions:east" {
		t.Errorf("extras = %v", d.Extras)
	}
	if d.Bounds != domain.NewGeoBounds(50, 5, 45, 15) {
		t.Errorf("bounds = %+v", d.Bounds)
	}

	if _, err := c.GetDataset(context.Background(), "missing"); !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Errorf("GetDataset(missing) error = %v, want ErrDatasetNotFound", err)
	}
}

func TestVisibility(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)
	ctx := context.Background()

	if err := c.SetVisible(ctx, "regions:east", false); err != nil {
		t.Fatalf("SetVisible() error = %v", err)
	}
	got, _ := c.QueryDatasets(ctx, domain.DatasetQuery{VisibleOnly: true, Order: domain.OrderName})
	if !equal(names(got), []string{"regions:west", "world"}) {
		t.Errorf("visible datasets = %v", names(got))
	}

	// a reloaded archive keeps the hidden flag
	if err := c.ReplaceArchive(ctx, "regions", []domain.DatasetDescriptor{
		dataset("regions:east", 1, domain.NewGeoBounds(50, 5, 45, 15)),
	}); err != nil {
		t.Fatalf("ReplaceArchive() error = %v", err)
	}
	d, err := c.GetDataset(ctx, "regions:east")
	if err != nil || d.Visible {
		t.Errorf("reloaded dataset = %+v, %v, want hidden", d, err)
	}
	if _, err := c.GetDataset(ctx, "regions:west"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("dataset dropped from archive still cataloged: %v", err)
	}

	if err := c.SetVisible(ctx, "missing", true); !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Errorf("SetVisible(missing) error = %v", err)
	}
}

func TestRemoveArchive(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)
	ctx := context.Background()

	if err := c.RemoveArchive(ctx, "regions"); err != nil {
		t.Fatalf("RemoveArchive() error = %v", err)
	}
	n, err := c.CountDatasets(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountDatasets() = %d, %v, want 1", n, err)
	}

	east := domain.NewGeoBounds(48, 8, 46, 10)
	got, _ := c.QueryDatasets(ctx, domain.DatasetQuery{Bounds: &east})
	if !equal(names(got), []string{"world"}) {
		t.Errorf("spatial index still holds removed datasets: %v", names(got))
	}
}

func TestReplaceArchiveRejectsInvalid(t *testing.T) {
	c := openTestCatalog(t)
	seed(t, c)
	ctx := context.Background()

	bad := dataset("regions:bad", 0, domain.NewGeoBounds(1, 0, 0, 1))
	if err := c.ReplaceArchive(ctx, "regions", []domain.DatasetDescriptor{bad}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ReplaceArchive() error = %v, want ErrInvalidInput", err)
	}
	n, _ := c.CountDatasets(ctx)
	if n != 3 {
		t.Errorf("failed replacement changed the catalog: %d datasets", n)
	}
}

func TestSubscribe(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	var calls atomic.Int32
	unsubscribe := c.Subscribe(func() { calls.Add(1) })

	seed(t, c)
	if got := calls.Load(); got != 2 {
		t.Errorf("notifications after two replacements = %d, want 2", got)
	}
	_ = c.SetVisible(ctx, "world", false)
	if got := calls.Load(); got != 3 {
		t.Errorf("notifications after SetVisible = %d, want 3", got)
	}

	unsubscribe()
	_ = c.RemoveArchive(ctx, "world")
	if got := calls.Load(); got != 3 {
		t.Errorf("notified after unsubscribe: %d", got)
	}
}

func TestMemoryCatalog(t *testing.T) {
	c, err := Open(context.Background(), MemoryPath, testLogger())
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	defer func() { _ = c.Close() }()

	seed(t, c)
	n, err := c.CountDatasets(context.Background())
	if err != nil || n != 3 {
		t.Errorf("CountDatasets() = %d, %v, want 3", n, err)
	}
}
