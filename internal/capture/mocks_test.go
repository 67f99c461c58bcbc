package capture

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/pyramid"
)

// fakeReader implements TileReader with solid tiles.
type fakeReader struct {
	name    string
	pyramid pyramid.Pyramid
	fill    color.RGBA
	missing map[domain.TileAddress]bool

	mu      sync.Mutex
	fetched []domain.TileAddress
}

func (r *fakeReader) Name() string { return r.name }

func (r *fakeReader) Pyramid() pyramid.Pyramid { return r.pyramid }

func (r *fakeReader) Tile(_ context.Context, level, col, row int) image.Image {
	addr := domain.TileAddress{Level: level, Column: col, Row: row}

	r.mu.Lock()
	r.fetched = append(r.fetched, addr)
	r.mu.Unlock()

	if r.missing[addr] || !r.pyramid.Contains(addr) {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, r.pyramid.TileWidth, r.pyramid.TileHeight))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r.fill.R, r.fill.G, r.fill.B, r.fill.A
	}
	return img
}

func (r *fakeReader) fetchedTiles() []domain.TileAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TileAddress(nil), r.fetched...)
}

type capturedTile struct {
	index, column, row int
	nilTile            bool
}

// recorder implements Callback.
type recorder struct {
	startCalls int
	numTiles   int
	tileW      int
	tileH      int
	fullW      int
	fullH      int
	rejectAt   int // -1 never
	refuse     bool
	tiles      []capturedTile
}

func newRecorder() *recorder {
	return &recorder{rejectAt: -1}
}

func (r *recorder) OnStartCapture(numTiles, tileWidth, tileHeight, fullWidth, fullHeight int) bool {
	r.startCalls++
	r.numTiles, r.tileW, r.tileH, r.fullW, r.fullH = numTiles, tileWidth, tileHeight, fullWidth, fullHeight
	return !r.refuse
}

func (r *recorder) OnCaptureTile(tile image.Image, index, column, row int) bool {
	r.tiles = append(r.tiles, capturedTile{index: index, column: column, row: row, nilTile: tile == nil})
	return index != r.rejectAt
}
