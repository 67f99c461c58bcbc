package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/engine"
)

func newViewFixture(t *testing.T) (*ViewService, *mockLayer, *mockCatalog) {
	t.Helper()
	layer := &mockLayer{state: engine.StateIdle}
	catalog := newMockCatalog()
	if err := catalog.ReplaceArchive(context.Background(), "world", []domain.DatasetDescriptor{
		worldDataset("world", 1000),
	}); err != nil {
		t.Fatal(err)
	}
	return NewViewService(layer, catalog, testLogger()), layer, catalog
}

func TestViewServiceSetView(t *testing.T) {
	service, layer, _ := newViewFixture(t)
	ctx := context.Background()

	first, err := service.SetView(ctx, domain.ViewState{
		Bounds:     domain.NewGeoBounds(50, 5, 45, 10),
		Resolution: 100,
	})
	if err != nil {
		t.Fatalf("SetView() error = %v", err)
	}
	if first.Version != 1 || first.CrossesIDL {
		t.Errorf("first view = %+v", first)
	}

	second, err := service.SetView(ctx, domain.ViewState{
		Bounds:     domain.NewGeoBounds(10, 170, -10, -170),
		Resolution: 100,
		Version:    42,
	})
	if err != nil {
		t.Fatalf("SetView() error = %v", err)
	}
	if second.Version != 2 {
		t.Errorf("Version = %d, want server-assigned 2", second.Version)
	}
	if !second.CrossesIDL {
		t.Error("antimeridian view not flagged")
	}
	if layer.views != 2 || layer.View() != second {
		t.Errorf("layer got %d views, last %+v", layer.views, layer.View())
	}
}

func TestViewServiceSetViewInvalid(t *testing.T) {
	tests := []struct {
		name string
		view domain.ViewState
	}{
		{"zero resolution", domain.ViewState{Bounds: domain.NewGeoBounds(1, 0, 0, 1)}},
		{"north below south", domain.ViewState{Bounds: domain.NewGeoBounds(0, 0, 1, 1), Resolution: 10}},
		{"latitude out of range", domain.ViewState{Bounds: domain.NewGeoBounds(91, 0, 0, 1), Resolution: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, layer, _ := newViewFixture(t)
			if _, err := service.SetView(context.Background(), tt.view); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("SetView() error = %v, want ErrInvalidInput", err)
			}
			if layer.views != 0 {
				t.Error("invalid view reached the layer")
			}
		})
	}
}

func TestViewServiceSetSelection(t *testing.T) {
	service, layer, _ := newViewFixture(t)
	ctx := context.Background()

	if err := service.SetSelection(ctx, "world"); err != nil {
		t.Fatalf("SetSelection() error = %v", err)
	}
	if layer.Selection() != "world" {
		t.Errorf("selection = %q", layer.Selection())
	}

	if err := service.SetSelection(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetSelection(unknown) error = %v, want ErrNotFound", err)
	}
	if layer.Selection() != "world" {
		t.Error("unknown dataset changed the selection")
	}

	if err := service.SetSelection(ctx, ""); err != nil {
		t.Fatalf("SetSelection(\"\") error = %v", err)
	}
	if layer.Selection() != "" {
		t.Errorf("selection = %q, want auto-select", layer.Selection())
	}
}

func TestViewServiceSetTransparency(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		alpha   float64
		wantErr error
	}{
		{"opaque", "world", 1, nil},
		{"transparent", "world", 0, nil},
		{"half", "world", 0.5, nil},
		{"negative", "world", -0.1, domain.ErrInvalidInput},
		{"above one", "world", 1.5, domain.ErrInvalidInput},
		{"unknown dataset", "unknown", 0.5, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, layer, _ := newViewFixture(t)
			err := service.SetTransparency(context.Background(), tt.dataset, tt.alpha)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetTransparency() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && layer.transparency[tt.dataset] != tt.alpha {
				t.Errorf("alpha = %v, want %v", layer.transparency[tt.dataset], tt.alpha)
			}
			if tt.wantErr != nil && len(layer.transparency) != 0 {
				t.Error("rejected update reached the layer")
			}
		})
	}
}

func TestViewServiceSetOffline(t *testing.T) {
	service, layer, _ := newViewFixture(t)
	ctx := context.Background()

	if err := service.SetOffline(ctx, true, time.Hour); err != nil {
		t.Fatalf("SetOffline() error = %v", err)
	}
	if offline, refresh := layer.Offline(); !offline || refresh != time.Hour {
		t.Errorf("Offline() = %v, %v", offline, refresh)
	}

	if err := service.SetOffline(ctx, false, -time.Second); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("SetOffline(negative) error = %v, want ErrInvalidInput", err)
	}
}

func TestViewServiceLayerStatus(t *testing.T) {
	service, layer, _ := newViewFixture(t)
	layer.selection = "world"
	layer.autoSelect = "world"
	layer.srid = domain.SRIDWGS84
	layer.offline = true
	layer.refresh = 10 * time.Minute
	layer.attributions = []domain.Attribution{{Text: "(c) world"}}

	status := service.LayerStatus(context.Background())
	if status.State != "idle" {
		t.Errorf("State = %q, want idle", status.State)
	}
	if status.Selection != "world" || status.AutoSelect != "world" || status.PreferredSRID != domain.SRIDWGS84 {
		t.Errorf("status = %+v", status)
	}
	if !status.Offline || status.Refresh != "10m0s" {
		t.Errorf("offline = %v, refresh = %q", status.Offline, status.Refresh)
	}
	if len(status.Attributions) != 1 || len(status.Renderables) != 0 {
		t.Errorf("attributions = %v, renderables = %v", status.Attributions, status.Renderables)
	}
}
