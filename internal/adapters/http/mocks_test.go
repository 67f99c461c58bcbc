package http

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"time"

	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockArchives implements input.ArchiveRegistry.
type mockArchives struct {
	archives []domain.Archive
	status   domain.ArchiveStatus
	err      error
}

func (m *mockArchives) ListArchives(_ context.Context) ([]domain.Archive, error) {
	return m.archives, m.err
}

func (m *mockArchives) GetArchive(_ context.Context, id string) (*domain.Archive, error) {
	for i := range m.archives {
		if m.archives[i].ID == id {
			return &m.archives[i], nil
		}
	}
	return nil, domain.ErrArchiveNotFound
}

func (m *mockArchives) GetArchiveStatus(_ context.Context, _ string) (domain.ArchiveStatus, error) {
	return m.status, nil
}

// mockDatasets implements input.DatasetService.
type mockDatasets struct {
	datasets  []domain.DatasetDescriptor
	lastQuery domain.DatasetQuery
	overview  input.OverviewRequest
	hidden    map[string]bool
	err       error
}

func (m *mockDatasets) ListDatasets(_ context.Context, q domain.DatasetQuery) ([]domain.DatasetDescriptor, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.DatasetDescriptor
	for _, d := range m.datasets {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDatasets) GetDataset(_ context.Context, name string) (*domain.DatasetDescriptor, error) {
	for i := range m.datasets {
		if m.datasets[i].Name == name {
			return &m.datasets[i], nil
		}
	}
	return nil, domain.ErrDatasetNotFound
}

func (m *mockDatasets) SetVisible(ctx context.Context, name string, visible bool) error {
	if _, err := m.GetDataset(ctx, name); err != nil {
		return err
	}
	if m.hidden == nil {
		m.hidden = make(map[string]bool)
	}
	m.hidden[name] = !visible
	return nil
}

func (m *mockDatasets) Overview(ctx context.Context, req input.OverviewRequest) (image.Image, error) {
	m.overview = req
	if _, err := m.GetDataset(ctx, req.Dataset); err != nil {
		return nil, err
	}
	if req.Scale <= 0 {
		return nil, &domain.ValidationError{Field: "scale", Message: "scale must be positive"}
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

// mockView implements input.ViewService.
type mockView struct {
	view         domain.ViewState
	selection    string
	transparency map[string]float64
	offline      bool
	refresh      time.Duration
	version      int64
}

func (m *mockView) SetView(_ context.Context, view domain.ViewState) (domain.ViewState, error) {
	if err := view.Validate(); err != nil {
		return domain.ViewState{}, err
	}
	m.version++
	view.Version = m.version
	m.view = view
	return view, nil
}

func (m *mockView) LayerStatus(_ context.Context) input.LayerStatus {
	return input.LayerStatus{
		State:     "idle",
		View:      m.view,
		Selection: m.selection,
		Offline:   m.offline,
		Refresh:   m.refresh.String(),
	}
}

func (m *mockView) SetSelection(_ context.Context, name string) error {
	if name != "" && name != "world" {
		return domain.ErrDatasetNotFound
	}
	m.selection = name
	return nil
}

func (m *mockView) SetTransparency(_ context.Context, name string, alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return &domain.ValidationError{Field: "alpha", Message: "alpha must be between 0 and 1"}
	}
	if m.transparency == nil {
		m.transparency = make(map[string]float64)
	}
	m.transparency[name] = alpha
	return nil
}

func (m *mockView) SetOffline(_ context.Context, offline bool, refresh time.Duration) error {
	m.offline, m.refresh = offline, refresh
	return nil
}

// mockCapture implements input.CaptureService.
type mockCapture struct {
	last    input.CaptureRequest
	payload []byte
	err     error
}

func (m *mockCapture) Capture(_ context.Context, req input.CaptureRequest, w io.Writer) (*input.CaptureResult, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	if _, err := w.Write(m.payload); err != nil {
		return nil, err
	}
	return &input.CaptureResult{
		Format:    req.Format,
		Bounds:    capture.TileCaptureBounds{Level: 3},
		Datasets:  []string{"base", "overlay"},
		Tiles:     4,
		Missing:   1,
		WorldFile: "0.5\n0.0\n0.0\n-0.5\n10.25\n50.25\n",
		Duration:  1500 * time.Millisecond,
	}, nil
}

func (m *mockCapture) Bounds(_ context.Context, req input.CaptureRequest) (*capture.TileCaptureBounds, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &capture.TileCaptureBounds{Level: 2, ImageWidth: 512, ImageHeight: 256}, nil
}

// mockSync implements input.SyncTrigger.
type mockSync struct {
	result input.SyncResult
	err    error
}

func (m *mockSync) TriggerSync(_ context.Context) (input.SyncResult, error) {
	return m.result, m.err
}

// mockHealth implements input.HealthChecker.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }

func (m *mockHealth) IsReady(_ context.Context) bool { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:        m.healthy,
		Ready:          m.ready,
		ArchivesLoaded: 1,
		ArchivesReady:  1,
		DatasetsLoaded: 2,
		Components:     map[string]string{"catalog": "ok", "layer": "idle"},
	}
}

func newTestServices() Services {
	return Services{
		Archives: &mockArchives{
			archives: []domain.Archive{{ID: "world", Path: "/data/world.gpkg", Size: 1024}},
			status:   domain.StatusReady,
		},
		Datasets: &mockDatasets{datasets: []domain.DatasetDescriptor{
			{
				Name:          "world",
				Provider:      "gpkg",
				Bounds:        domain.NewGeoBounds(90, -180, -90, 180),
				MaxResolution: 1000,
				MinResolution: 100000,
				SRID:          domain.SRIDWGS84,
				Visible:       true,
			},
			{
				Name:          "city",
				Provider:      "gpkg",
				Bounds:        domain.NewGeoBounds(48.2, 11.4, 48.0, 11.7),
				MaxResolution: 0.5,
				MinResolution: 50,
				SRID:          domain.SRIDWebMercator,
				Visible:       true,
			},
		}},
		View:    &mockView{},
		Capture: &mockCapture{payload: []byte("\x89PNG fake")},
		Sync:    &mockSync{},
		Health:  &mockHealth{healthy: true, ready: true},
	}
}
