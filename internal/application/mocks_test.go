package application

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/engine"
	"github.com/jobrunner/tessera/internal/geom"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/pyramid"
	"github.com/jobrunner/tessera/internal/raster"
)

var errBroken = errors.New("broken")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockScanner implements output.ArchiveScanner. Archives are keyed by ID.
type mockScanner struct {
	mu       sync.Mutex
	datasets map[string][]domain.DatasetDescriptor
	err      error
	scans    []string
}

func (m *mockScanner) Scan(_ context.Context, path string) ([]domain.DatasetDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans = append(m.scans, path)
	if m.err != nil {
		return nil, m.err
	}
	return m.datasets[deriveArchiveID(path)], nil
}

// mockCatalog implements output.Catalog in memory.
type mockCatalog struct {
	mu       sync.Mutex
	archives map[string][]domain.DatasetDescriptor
	hidden   map[string]bool
	err      error
	subs     map[int]func()
	nextSub  int
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		archives: make(map[string][]domain.DatasetDescriptor),
		hidden:   make(map[string]bool),
		subs:     make(map[int]func()),
	}
}

func (m *mockCatalog) all() []domain.DatasetDescriptor {
	var out []domain.DatasetDescriptor
	for _, datasets := range m.archives {
		for _, d := range datasets {
			d.Visible = !m.hidden[d.Name]
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockCatalog) QueryDatasets(_ context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, &domain.QueryError{Err: m.err}
	}

	var out []domain.DatasetDescriptor
	for _, d := range m.all() {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	domain.SortDatasets(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *mockCatalog) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *mockCatalog) notify() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *mockCatalog) ReplaceArchive(_ context.Context, id string, datasets []domain.DatasetDescriptor) error {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	m.archives[id] = datasets
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *mockCatalog) RemoveArchive(_ context.Context, id string) error {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return m.err
	}
	delete(m.archives, id)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *mockCatalog) GetDataset(_ context.Context, name string) (*domain.DatasetDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.all() {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, domain.ErrDatasetNotFound
}

func (m *mockCatalog) SetVisible(_ context.Context, name string, visible bool) error {
	m.mu.Lock()
	found := false
	for _, d := range m.all() {
		if d.Name == name {
			found = true
		}
	}
	if found {
		m.hidden[name] = !visible
	}
	m.mu.Unlock()

	if !found {
		return domain.ErrDatasetNotFound
	}
	m.notify()
	return nil
}

func (m *mockCatalog) CountDatasets(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.all()), nil
}

func (m *mockCatalog) Close() error { return nil }

func (m *mockCatalog) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// mockStorage implements output.ObjectStorage. Download writes a small file
// to dest.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloads   []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]output.StorageObject(nil), m.objects...), nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloads = append(m.downloads, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("archive "+key), 0o644)
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, domain.ErrUnsupported
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (m *mockStorage) setObjects(objects ...output.StorageObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = objects
}

func (m *mockStorage) downloadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.downloads)
}

// recordingCache implements bitmapCache.
type recordingCache struct {
	mu     sync.Mutex
	purged []string
}

func (c *recordingCache) Purge(dataset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = append(c.purged, dataset)
}

func (c *recordingCache) purges() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.purged...)
}

// mockSource implements output.TileSource with solid tiles.
type mockSource struct {
	mu      sync.Mutex
	pyramid pyramid.Pyramid
	fill    color.RGBA
	reads   int
	closed  bool
}

func (m *mockSource) Tile(_ context.Context, _, _, _ int) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	img := image.NewRGBA(image.Rect(0, 0, m.pyramid.TileWidth, m.pyramid.TileHeight))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = m.fill.R, m.fill.G, m.fill.B, m.fill.A
	}
	return img, nil
}

func (m *mockSource) Pyramid() pyramid.Pyramid { return m.pyramid }

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSource) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockFactory implements output.TileSourceFactory. Every dataset gets a
// world-wide plate carree pyramid of 2x1 tiles of 256 pixels at full
// resolution.
type mockFactory struct {
	mu      sync.Mutex
	opened  []*mockSource
	names   []string
	openErr map[string]error
}

func (f *mockFactory) Open(_ context.Context, desc domain.DatasetDescriptor) (output.TileSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.openErr[desc.Name]; err != nil {
		return nil, err
	}
	src := &mockSource{
		pyramid: pyramid.Pyramid{
			Width:      512,
			Height:     256,
			TileWidth:  256,
			TileHeight: 256,
			Levels:     2,
			Origin:     geom.Pt(0, 0),
			PixelSizeX: 360.0 / 512,
			PixelSizeY: 180.0 / 256,
		},
		fill: color.RGBA{G: 180, A: 255},
	}
	f.opened = append(f.opened, src)
	f.names = append(f.names, desc.Name)
	return src, nil
}

func (f *mockFactory) sources() []*mockSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockSource(nil), f.opened...)
}

// mockLayer implements imageryLayer.
type mockLayer struct {
	mu           sync.Mutex
	view         domain.ViewState
	views        int
	state        engine.State
	renderables  []*raster.RenderableLayer
	selection    string
	autoSelect   string
	srid         int
	transparency map[string]float64
	offline      bool
	refresh      time.Duration
	attributions []domain.Attribution
}

func (m *mockLayer) SetView(view domain.ViewState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = view
	m.views++
}

func (m *mockLayer) View() domain.ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *mockLayer) State() engine.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockLayer) Renderables() []*raster.RenderableLayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderables
}

func (m *mockLayer) Renderable(name string) (*raster.RenderableLayer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.renderables {
		if r.Key() == name {
			return r, true
		}
	}
	return nil, false
}

func (m *mockLayer) Selection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection
}

func (m *mockLayer) SetSelection(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = name
}

func (m *mockLayer) AutoSelect() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoSelect
}

func (m *mockLayer) PreferredSRID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srid
}

func (m *mockLayer) SetTransparency(name string, alpha float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transparency == nil {
		m.transparency = make(map[string]float64)
	}
	m.transparency[name] = alpha
}

func (m *mockLayer) Offline() (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline, m.refresh
}

func (m *mockLayer) SetOffline(offline bool, refresh time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline, m.refresh = offline, refresh
}

func (m *mockLayer) Attributions() []domain.Attribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attributions
}

// worldDataset describes a world-wide dataset.
func worldDataset(name string, native float64) domain.DatasetDescriptor {
	return domain.DatasetDescriptor{
		Name:          name,
		URI:           "/data/" + name + ".gpkg",
		Provider:      "gpkg",
		Bounds:        domain.NewGeoBounds(90, -180, -90, 180),
		MaxResolution: native,
		MinResolution: native * 16,
		SRID:          domain.SRIDWGS84,
		Visible:       true,
		Extras:        map[string]string{domain.ExtraAttribution: "(c) " + name},
	}
}
