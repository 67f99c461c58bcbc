// Package engine runs the background query loop that keeps a layer's render
// list in step with the map view.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
	"github.com/jobrunner/tessera/internal/render"
)

// Keyed is implemented by pending items; equal keys identify the same
// renderable across query passes.
type Keyed interface {
	Key() string
}

// Querier supplies the layer-specific half of an AsyncRenderable.
//
// Query runs on the worker goroutine. Create, Release and Swapped run on the
// render goroutine and must not block.
type Querier[D Keyed, R any] interface {
	// Query resolves the pending data for a view.
	Query(ctx context.Context, view domain.ViewState) ([]D, error)

	// Create builds a renderable for an item not yet in the render list.
	Create(ctx context.Context, item D) R

	// Release disposes a renderable dropped from the render list.
	Release(r R)

	// Swapped is called after every swap with the new render list.
	Swapped(ctx context.Context, view domain.ViewState, live []R)
}

// AsyncRenderable owns one worker goroutine that turns view changes into
// render-list swaps. At most one query is in flight; invalidations arriving
// meanwhile coalesce into a single follow-up query against the latest view.
type AsyncRenderable[D Keyed, R any] struct {
	name    string
	querier Querier[D, R]
	rc      *render.Context
	metrics output.MetricsCollector
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	target   domain.ViewState
	prepared domain.ViewState
	invalid  bool
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	// written only on the render goroutine
	liveMu sync.RWMutex
	live   []R
	keys   []string
}

// New creates a stopped AsyncRenderable.
func New[D Keyed, R any](
	name string,
	querier Querier[D, R],
	rc *render.Context,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *AsyncRenderable[D, R] {
	return &AsyncRenderable[D, R]{
		name:    name,
		querier: querier,
		rc:      rc,
		metrics: metrics,
		logger:  logger.With("layer", name),
		state:   StateStopped,
		wake:    make(chan struct{}, 1),
	}
}

// Name returns the layer name.
func (a *AsyncRenderable[D, R]) Name() string {
	return a.name
}

// State returns the current lifecycle state.
func (a *AsyncRenderable[D, R]) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start launches the worker goroutine. A started renderable begins with a
// pending query.
func (a *AsyncRenderable[D, R]) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateStopped {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state = StateIdle
	a.invalidateLocked()

	go a.run(wctx, a.done)
	a.logger.Debug("async renderable started")
}

// Stop terminates the worker and schedules release of every renderable on
// the render goroutine.
func (a *AsyncRenderable[D, R]) Stop() {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	cancel, done := a.cancel, a.done
	a.state = StateStopped
	a.invalid = false
	a.mu.Unlock()

	cancel()
	<-done

	a.rc.Queue(func(context.Context) {
		a.liveMu.Lock()
		live := a.live
		a.live = nil
		a.keys = nil
		a.liveMu.Unlock()

		for _, r := range live {
			a.querier.Release(r)
		}
		a.metrics.SetRenderables(a.name, 0)
	})
	a.logger.Debug("async renderable stopped")
}

// Invalidate requests a new query pass.
func (a *AsyncRenderable[D, R]) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidateLocked()
}

func (a *AsyncRenderable[D, R]) invalidateLocked() {
	if a.state == StateStopped {
		return
	}
	a.invalid = true
	if a.state == StateIdle {
		a.state = StateQueryPending
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// SetView records the latest view and invalidates when it differs from the
// view of the last completed pass.
func (a *AsyncRenderable[D, R]) SetView(view domain.ViewState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.target = view
	if view.Version != a.prepared.Version || view.Bounds != a.prepared.Bounds ||
		view.Resolution != a.prepared.Resolution || view.SRID != a.prepared.SRID {
		a.invalidateLocked()
	}
}

// View returns the latest requested view.
func (a *AsyncRenderable[D, R]) View() domain.ViewState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// Renderables returns a snapshot of the live render list.
func (a *AsyncRenderable[D, R]) Renderables() []R {
	a.liveMu.RLock()
	defer a.liveMu.RUnlock()
	return append([]R(nil), a.live...)
}

// Keys returns the keys of the live render list in render order.
func (a *AsyncRenderable[D, R]) Keys() []string {
	a.liveMu.RLock()
	defer a.liveMu.RUnlock()
	return append([]string(nil), a.keys...)
}

func (a *AsyncRenderable[D, R]) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}

		for {
			a.mu.Lock()
			if ctx.Err() != nil {
				a.mu.Unlock()
				return
			}
			if !a.invalid {
				a.state = StateIdle
				a.mu.Unlock()
				break
			}
			a.invalid = false
			view := a.target
			a.state = StateQuerying
			a.mu.Unlock()

			if !a.pass(ctx, view) {
				return
			}
		}
	}
}

// pass runs one query and, on success, hands the result to the render
// goroutine and waits for the swap. It returns false when ctx is done.
func (a *AsyncRenderable[D, R]) pass(ctx context.Context, view domain.ViewState) bool {
	start := time.Now()
	pending, err := a.querier.Query(ctx, view)
	if ctx.Err() != nil {
		return false
	}
	a.metrics.ObserveQueryDuration(a.name, time.Since(start))
	if err != nil {
		a.metrics.IncQueryPass(a.name, false)
		a.logger.Error("query pass failed, keeping previous render list", "error", err)
		return true
	}
	a.metrics.IncQueryPass(a.name, true)

	a.mu.Lock()
	a.state = StateSwapping
	a.mu.Unlock()

	swapped := make(chan struct{})
	a.rc.Queue(func(rctx context.Context) {
		defer close(swapped)
		if ctx.Err() != nil {
			return
		}
		a.swap(rctx, view, pending)
	})

	select {
	case <-swapped:
	case <-ctx.Done():
		return false
	}

	a.mu.Lock()
	a.prepared = view
	a.mu.Unlock()
	return true
}

// swap replaces the render list. Renderables are matched by key; matches are
// reused, new items created and dropped entries released in a later task.
func (a *AsyncRenderable[D, R]) swap(ctx context.Context, view domain.ViewState, pending []D) {
	a.liveMu.RLock()
	current := make(map[string]R, len(a.live))
	for i, r := range a.live {
		current[a.keys[i]] = r
	}
	oldKeys := a.keys
	a.liveMu.RUnlock()

	next := make([]R, 0, len(pending))
	nextKeys := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, item := range pending {
		key := item.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		r, ok := current[key]
		if ok {
			delete(current, key)
		} else {
			r = a.querier.Create(ctx, item)
		}
		next = append(next, r)
		nextKeys = append(nextKeys, key)
	}

	dropped := make([]R, 0, len(current))
	for _, key := range oldKeys {
		if r, ok := current[key]; ok {
			dropped = append(dropped, r)
		}
	}

	a.liveMu.Lock()
	a.live = next
	a.keys = nextKeys
	a.liveMu.Unlock()

	a.querier.Swapped(ctx, view, next)
	a.metrics.IncSwaps(a.name)
	a.metrics.SetRenderables(a.name, len(next))

	if len(dropped) > 0 {
		a.rc.Queue(func(context.Context) {
			for _, r := range dropped {
				a.querier.Release(r)
			}
		})
	}
}
