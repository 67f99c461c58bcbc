package raster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
)

func newTestRenderable(t *testing.T, factory *mockFactory, srid int) (*RenderableLayer, *bitmap.Memo) {
	t.Helper()
	memo, err := bitmap.NewMemo(16, bitmap.NewPool(2), &output.NoOpMetrics{}, testLogger())
	if err != nil {
		t.Fatalf("NewMemo() error = %v", err)
	}
	t.Cleanup(memo.Close)

	desc := dataset("ortho", 5000, 100, europe)
	desc.SRID = srid
	return NewRenderableLayer(desc, factory, memo, 10, testLogger()), memo
}

func TestRenderableLayerOpensLazily(t *testing.T) {
	factory := &mockFactory{}
	r, _ := newTestRenderable(t, factory, domain.SRIDWebMercator)

	if factory.openCount() != 0 {
		t.Fatal("tile source opened before first use")
	}

	tile := r.Tile(context.Background(), domain.TileAddress{Level: 0, Column: 1, Row: 0})
	if tile == nil {
		t.Fatal("expected tile")
	}
	if tile := r.Tile(context.Background(), domain.TileAddress{Level: 0, Column: 2, Row: 0}); tile != nil {
		t.Error("expected nil for out-of-range tile")
	}
	if factory.openCount() != 1 {
		t.Errorf("opened = %d, want 1", factory.openCount())
	}
}

func TestRenderableLayerOpenFailure(t *testing.T) {
	factory := &mockFactory{openErr: domain.ErrUnsupportedProvider}
	r, _ := newTestRenderable(t, factory, domain.SRIDWebMercator)

	if _, err := r.Reader(context.Background()); !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Errorf("Reader() error = %v, want ErrUnsupportedProvider", err)
	}
	if tile := r.Tile(context.Background(), domain.TileAddress{}); tile != nil {
		t.Error("expected nil tile when source cannot open")
	}
}

func TestRenderableLayerOverview(t *testing.T) {
	factory := &mockFactory{}
	r, memo := newTestRenderable(t, factory, domain.SRIDWebMercator)

	img, err := r.Overview(context.Background(), 0.5, 2, 47)
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	// 512x256 at scale 0.5, sample 2
	if b := img.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("overview size = %dx%d, want 128x64", b.Dx(), b.Dy())
	}
	red, _, _, _ := img.At(10, 10).RGBA()
	if red>>8 != 200 {
		t.Errorf("overview pixel red = %d, want 200", red>>8)
	}

	reads := factory.source("ortho").reads
	if _, err := r.Overview(context.Background(), 0.5, 2, 41); err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if factory.source("ortho").reads != reads {
		t.Error("overview in the same latitude band should be memoized")
	}
	if memo.Len() != 1 {
		t.Errorf("memo entries = %d, want 1", memo.Len())
	}

	if _, err := r.Overview(context.Background(), 0, 1, 0); err == nil {
		t.Error("expected error for zero scale")
	}
}

func TestRenderableLayerOverviewLatitudeCorrection(t *testing.T) {
	factory := &mockFactory{}
	r, _ := newTestRenderable(t, factory, domain.SRIDWGS84)

	img, err := r.Overview(context.Background(), 1, 1, 65)
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	// band 60..70 centers on 65 degrees; cos(65) * 512 = 216.4
	if b := img.Bounds(); b.Dx() != 217 || b.Dy() != 256 {
		t.Errorf("overview size = %dx%d, want 217x256", b.Dx(), b.Dy())
	}
}

func TestRenderableLayerPeekOverview(t *testing.T) {
	r, _ := newTestRenderable(t, &mockFactory{}, domain.SRIDWebMercator)

	if _, ok := r.PeekOverview(1, 1, 0); ok {
		t.Fatal("first PeekOverview should miss")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if img, ok := r.PeekOverview(1, 1, 0); ok {
			if img.Bounds().Dx() != 512 {
				t.Errorf("width = %d, want 512", img.Bounds().Dx())
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("overview never decoded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRenderableLayerDispose(t *testing.T) {
	factory := &mockFactory{}
	r, memo := newTestRenderable(t, factory, domain.SRIDWebMercator)

	if _, err := r.Overview(context.Background(), 1, 1, 0); err != nil {
		t.Fatalf("Overview() error = %v", err)
	}

	r.Dispose()
	r.Dispose()

	if !factory.source("ortho").isClosed() {
		t.Error("source not closed")
	}
	if memo.Len() != 0 {
		t.Errorf("memo entries after dispose = %d, want 0", memo.Len())
	}
	if _, err := r.Reader(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("Reader() after dispose error = %v, want ErrUnavailable", err)
	}
}

func TestRenderableLayerAlphaClamp(t *testing.T) {
	r, _ := newTestRenderable(t, &mockFactory{}, domain.SRIDWebMercator)

	if r.Alpha() != 1 {
		t.Errorf("default alpha = %v, want 1", r.Alpha())
	}
	r.SetAlpha(1.7)
	if r.Alpha() != 1 {
		t.Errorf("alpha = %v, want 1", r.Alpha())
	}
	r.SetAlpha(-0.2)
	if r.Alpha() != 0 {
		t.Errorf("alpha = %v, want 0", r.Alpha())
	}
}
