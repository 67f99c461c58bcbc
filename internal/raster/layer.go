// Package raster decides which imagery datasets a map view shows and keeps
// their renderables in step with it.
package raster

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/engine"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/projection"
	"github.com/jobrunner/tessera/internal/render"
)

// Config holds the layer settings.
type Config struct {
	Name           string
	SelectionLimit int
	LatBucketSize  float64
}

// Deps bundles the collaborators of a DatasetLayer.
type Deps struct {
	Store    output.DataStore
	Factory  output.TileSourceFactory
	Provider *projection.Provider
	Memo     *bitmap.Memo
	Render   *render.Context
	Metrics  output.MetricsCollector
	Logger   *slog.Logger
}

// DatasetLayer selects the datasets shown for the current view. Selection
// runs on the engine's worker; renderables live on the render goroutine.
type DatasetLayer struct {
	cfg      Config
	store    output.DataStore
	factory  output.TileSourceFactory
	provider *projection.Provider
	memo     *bitmap.Memo
	rc       *render.Context
	logger   *slog.Logger
	engine   *engine.AsyncRenderable[domain.DatasetDescriptor, *RenderableLayer]

	mu            sync.Mutex
	selection     string
	autoSelect    string
	preferredSRID int
	transparency  map[string]float64
	offline       bool
	refresh       time.Duration
	attributions  domain.AttributionSet
	previous      []domain.DatasetDescriptor
	unsubscribe   func()

	attributionSubs listeners[[]domain.Attribution]
	autoSelectSubs  listeners[string]
	projectionSubs  listeners[int]
}

// NewDatasetLayer creates a stopped layer.
func NewDatasetLayer(cfg Config, deps Deps) *DatasetLayer {
	if cfg.Name == "" {
		cfg.Name = "imagery"
	}
	l := &DatasetLayer{
		cfg:           cfg,
		store:         deps.Store,
		factory:       deps.Factory,
		provider:      deps.Provider,
		memo:          deps.Memo,
		rc:            deps.Render,
		logger:        deps.Logger.With("layer", cfg.Name),
		preferredSRID: domain.SRIDWGS84,
		transparency:  make(map[string]float64),
		attributions:  make(domain.AttributionSet),
	}
	l.engine = engine.New[domain.DatasetDescriptor, *RenderableLayer](
		cfg.Name, (*layerQuerier)(l), deps.Render, deps.Metrics, deps.Logger,
	)
	return l
}

// Name returns the layer name.
func (l *DatasetLayer) Name() string {
	return l.cfg.Name
}

// Start subscribes to store changes, registers the layer's controls and
// starts the query worker.
func (l *DatasetLayer) Start(ctx context.Context) {
	l.mu.Lock()
	if l.unsubscribe == nil {
		l.unsubscribe = l.store.Subscribe(l.engine.Invalidate)
	}
	l.mu.Unlock()

	controls := l.rc.Controls()
	controls.Register(render.ControlAttribution, l)
	controls.Register(render.ControlSelection, l)
	controls.Register(render.ControlTransparency, l)

	l.engine.Start(ctx)
	l.logger.Info("imagery layer started", "selection_limit", l.cfg.SelectionLimit)
}

// Stop stops the worker and releases every renderable.
func (l *DatasetLayer) Stop() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	controls := l.rc.Controls()
	controls.Unregister(render.ControlAttribution, l)
	controls.Unregister(render.ControlSelection, l)
	controls.Unregister(render.ControlTransparency, l)

	l.engine.Stop()
	l.logger.Info("imagery layer stopped")
}

// Invalidate requests a new query pass.
func (l *DatasetLayer) Invalidate() {
	l.engine.Invalidate()
}

// SetView updates the target view.
func (l *DatasetLayer) SetView(view domain.ViewState) {
	l.engine.SetView(view)
}

// View returns the target view.
func (l *DatasetLayer) View() domain.ViewState {
	return l.engine.View()
}

// State returns the engine state.
func (l *DatasetLayer) State() engine.State {
	return l.engine.State()
}

// Renderables returns a snapshot of the live render list, coarsest first.
func (l *DatasetLayer) Renderables() []*RenderableLayer {
	return l.engine.Renderables()
}

// Renderable returns the live renderable of a dataset.
func (l *DatasetLayer) Renderable(name string) (*RenderableLayer, bool) {
	for _, r := range l.engine.Renderables() {
		if r.Key() == name {
			return r, true
		}
	}
	return nil, false
}

// Selection returns the manual selection, empty for auto-select.
func (l *DatasetLayer) Selection() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selection
}

// SetSelection restricts the layer to one dataset. An empty name restores
// auto-select.
func (l *DatasetLayer) SetSelection(name string) {
	l.mu.Lock()
	changed := l.selection != name
	l.selection = name
	l.mu.Unlock()

	if changed {
		l.engine.Invalidate()
	}
}

// AutoSelect returns the current auto-select value.
func (l *DatasetLayer) AutoSelect() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.autoSelect
}

// PreferredSRID returns the preferred map projection.
func (l *DatasetLayer) PreferredSRID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.preferredSRID
}

// Transparency returns the stored opacity of a dataset.
func (l *DatasetLayer) Transparency(name string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transparencyLocked(name)
}

func (l *DatasetLayer) transparencyLocked(name string) float64 {
	if a, ok := l.transparency[name]; ok {
		return a
	}
	return 1
}

// SetTransparency stores the opacity of a dataset and applies it on the next
// swap.
func (l *DatasetLayer) SetTransparency(name string, alpha float64) {
	l.mu.Lock()
	l.transparency[name] = math.Max(0, math.Min(1, alpha))
	l.mu.Unlock()

	l.engine.Invalidate()
}

// Offline returns offline mode and the cache refresh interval.
func (l *DatasetLayer) Offline() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offline, l.refresh
}

// SetOffline sets offline mode and the cache refresh interval.
func (l *DatasetLayer) SetOffline(offline bool, refresh time.Duration) {
	l.mu.Lock()
	l.offline = offline
	l.refresh = refresh
	l.mu.Unlock()

	l.engine.Invalidate()
}

// Attributions returns the attributions of the current selection.
func (l *DatasetLayer) Attributions() []domain.Attribution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attributions.Sorted()
}

// SubscribeAttributions registers fn for attribution changes.
func (l *DatasetLayer) SubscribeAttributions(fn func([]domain.Attribution)) func() {
	return l.attributionSubs.subscribe(fn)
}

// SubscribeAutoSelect registers fn for auto-select changes.
func (l *DatasetLayer) SubscribeAutoSelect(fn func(string)) func() {
	return l.autoSelectSubs.subscribe(fn)
}

// SubscribeProjection registers fn for preferred projection changes.
func (l *DatasetLayer) SubscribeProjection(fn func(int)) func() {
	return l.projectionSubs.subscribe(fn)
}

// layerQuerier is the engine-facing side of a DatasetLayer.
type layerQuerier DatasetLayer

// windowResult is the outcome of querying one view window.
type windowResult struct {
	datasets   []domain.DatasetDescriptor
	autoSelect string
	decided    bool
}

func (q *layerQuerier) Query(ctx context.Context, view domain.ViewState) ([]domain.DatasetDescriptor, error) {
	l := (*DatasetLayer)(q)

	l.mu.Lock()
	held := heldSelection{
		manual:     l.selection,
		autoSelect: l.autoSelect,
		previous:   l.previous,
	}
	l.mu.Unlock()

	var (
		merged     []domain.DatasetDescriptor
		seen       = make(map[string]struct{})
		autoSelect string
		decided    bool
	)
	for _, window := range view.QueryWindows() {
		res, err := l.queryWindow(ctx, view, window, held)
		if err != nil {
			return nil, &domain.QueryError{Query: l.cfg.Name, Err: err}
		}
		if res.decided {
			decided = true
			if autoSelect == "" {
				autoSelect = res.autoSelect
			}
		}
		for _, d := range res.datasets {
			if _, dup := seen[d.Key()]; dup {
				continue
			}
			seen[d.Key()] = struct{}{}
			merged = append(merged, d)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return domain.CoarserThan(merged[i], merged[j])
	})

	if decided {
		l.updateAutoSelect(view, autoSelect, merged)
	}
	l.updateAttributions(merged)

	l.logger.Debug("query pass complete",
		"version", view.Version,
		"datasets", len(merged),
		"auto_select", autoSelect,
	)
	return merged, nil
}

// heldSelection is the layer's selection state at the start of a pass.
type heldSelection struct {
	manual     string
	autoSelect string
	previous   []domain.DatasetDescriptor
}

// queryWindow resolves the selection for one window. A previous selection
// whose resolution range still covers the view and which still intersects it
// is kept as a whole, together with its auto-select value.
func (l *DatasetLayer) queryWindow(
	ctx context.Context,
	view domain.ViewState,
	window domain.GeoBounds,
	held heldSelection,
) (windowResult, error) {
	limit := l.cfg.SelectionLimit
	sticky := held.manual == "" && limit > 0 && len(held.previous) > 0 &&
		stickySelection(view, window, held.previous)

	unrestricted := held.manual == "" && !sticky
	q := domain.DatasetQuery{
		Bounds:      &window,
		VisibleOnly: true,
		Order:       domain.OrderCoarsestFirst,
	}
	switch {
	case sticky:
		q.Names = domain.DatasetNames(held.previous)
	case unrestricted:
		q.MaxGSD = view.Resolution
		if limit > 0 {
			q.Limit = limit
		}
	default:
		q.Names = []string{held.manual}
	}

	datasets, err := l.store.QueryDatasets(ctx, q)
	if err != nil {
		return windowResult{}, err
	}

	if unrestricted && limit > 0 && len(datasets) > 0 {
		datasets, err = l.store.QueryDatasets(ctx, domain.DatasetQuery{
			Bounds:      &window,
			Names:       domain.DatasetNames(datasets),
			VisibleOnly: true,
			Order:       domain.OrderCoarsestFirst,
		})
		if err != nil {
			return windowResult{}, err
		}
	}

	res := windowResult{datasets: datasets}
	switch {
	case sticky:
		res.autoSelect = held.autoSelect
		res.decided = true
	case unrestricted:
		res.decided = true
		if len(datasets) > 0 {
			res.autoSelect = datasets[0].Name
		}
	}
	return res, nil
}

// stickySelection reports whether the previous selection's resolution range,
// from its finest to its coarsest dataset, spans the view resolution and any
// of it intersects the window.
func stickySelection(view domain.ViewState, window domain.GeoBounds, previous []domain.DatasetDescriptor) bool {
	finest := math.Inf(1)
	coarsest := 0.0
	intersects := false

	for _, d := range previous {
		finest = math.Min(finest, d.MaxResolution)
		coarsest = math.Max(coarsest, d.MinResolution)
		if d.Bounds.Intersects(window) {
			intersects = true
		}
	}

	return intersects && finest <= view.Resolution && view.Resolution <= coarsest
}

func (l *DatasetLayer) updateAutoSelect(view domain.ViewState, autoSelect string, datasets []domain.DatasetDescriptor) {
	l.mu.Lock()
	autoChanged := autoSelect != l.autoSelect
	l.autoSelect = autoSelect

	srid := l.preferredSRID
	if autoSelect != "" {
		for _, d := range datasets {
			if d.Name != autoSelect {
				continue
			}
			if d.SRID != view.SRID && containsAll(d.Bounds, view.QueryWindows()) {
				srid = d.SRID
				if !l.provider.Supports(srid) {
					srid = domain.SRIDWGS84
				}
			}
			break
		}
	}
	projChanged := srid != l.preferredSRID
	l.preferredSRID = srid
	l.mu.Unlock()

	if autoChanged {
		l.autoSelectSubs.publish(autoSelect)
	}
	if projChanged {
		l.logger.Info("preferred projection changed", "srid", srid, "dataset", autoSelect)
		l.projectionSubs.publish(srid)
	}
}

func (l *DatasetLayer) updateAttributions(datasets []domain.DatasetDescriptor) {
	set := domain.AttributionsOf(datasets)

	l.mu.Lock()
	if set.Equal(l.attributions) {
		l.mu.Unlock()
		return
	}
	l.attributions = set
	l.mu.Unlock()

	l.attributionSubs.publish(set.Sorted())
}

func containsAll(b domain.GeoBounds, windows []domain.GeoBounds) bool {
	for _, w := range windows {
		if !b.Contains(w) {
			return false
		}
	}
	return true
}

func (q *layerQuerier) Create(_ context.Context, d domain.DatasetDescriptor) *RenderableLayer {
	l := (*DatasetLayer)(q)
	return NewRenderableLayer(d, l.factory, l.memo, l.cfg.LatBucketSize, l.logger)
}

func (q *layerQuerier) Release(r *RenderableLayer) {
	r.Dispose()
}

// Swapped reapplies the stored per-dataset settings and records the new
// selection for the sticky rule.
func (q *layerQuerier) Swapped(_ context.Context, _ domain.ViewState, live []*RenderableLayer) {
	l := (*DatasetLayer)(q)

	l.mu.Lock()
	offline, refresh := l.offline, l.refresh
	previous := make([]domain.DatasetDescriptor, len(live))
	alphas := make([]float64, len(live))
	for i, r := range live {
		previous[i] = r.Descriptor()
		alphas[i] = l.transparencyLocked(r.Key())
	}
	l.previous = previous
	l.mu.Unlock()

	for i, r := range live {
		r.SetAlpha(alphas[i])
		r.SetPolicy(offline, refresh)
	}
}
