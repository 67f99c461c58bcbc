package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/geom"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// mockStore implements output.DataStore over an in-memory dataset list.
type mockStore struct {
	mu       sync.Mutex
	datasets []domain.DatasetDescriptor
	queries  []domain.DatasetQuery
	err      error
	subs     map[int]func()
	nextSub  int
}

func (m *mockStore) QueryDatasets(_ context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}

	var out []domain.DatasetDescriptor
	for _, d := range m.datasets {
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

func (m *mockStore) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs == nil {
		m.subs = make(map[int]func())
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *mockStore) add(d domain.DatasetDescriptor) {
	m.mu.Lock()
	m.datasets = append(m.datasets, d)
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *mockStore) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockStore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// mockSource implements output.TileSource with solid-color tiles.
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

func (m *mockSource) Pyramid() pyramid.Pyramid {
	return m.pyramid
}

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

// mockFactory implements output.TileSourceFactory.
type mockFactory struct {
	mu      sync.Mutex
	opened  map[string]*mockSource
	openErr error
}

func (f *mockFactory) Open(_ context.Context, desc domain.DatasetDescriptor) (output.TileSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.opened == nil {
		f.opened = make(map[string]*mockSource)
	}
	src := &mockSource{
		pyramid: pyramid.Pyramid{
			Width:      512,
			Height:     256,
			TileWidth:  256,
			TileHeight: 256,
			Levels:     1,
			Origin:     geom.Pt(0, 0),
			PixelSizeX: 1,
			PixelSizeY: 1,
		},
		fill: color.RGBA{R: 200, A: 255},
	}
	f.opened[desc.Name] = src
	return src, nil
}

func (f *mockFactory) source(name string) *mockSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[name]
}

func (f *mockFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

var errStoreDown = errors.New("store down")
