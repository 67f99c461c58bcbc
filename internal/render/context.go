// Package render provides the single goroutine that owns all live renderables.
// Work reaches it only through queued tasks.
package render

import (
	"context"
	"log/slog"
	"sync"
)

// Task is a unit of work executed on the render goroutine. The context passed
// to a task reports true from IsRenderContext.
type Task func(ctx context.Context)

type renderKey struct{}

// IsRenderContext returns true if ctx belongs to a task running on the render
// goroutine.
func IsRenderContext(ctx context.Context) bool {
	v, _ := ctx.Value(renderKey{}).(bool)
	return v
}

// Context is a FIFO task queue drained by one goroutine. Queue never blocks.
type Context struct {
	mu       sync.Mutex
	queue    []Task
	signal   chan struct{}
	controls *Controls
	logger   *slog.Logger
}

// NewContext creates a render context.
func NewContext(logger *slog.Logger) *Context {
	return &Context{
		signal:   make(chan struct{}, 1),
		controls: NewControls(),
		logger:   logger,
	}
}

// Queue schedules task to run on the render goroutine.
func (c *Context) Queue(task Task) {
	if task == nil {
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, task)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Controls returns the control registry of this context.
func (c *Context) Controls() *Controls {
	return c.controls
}

// Run executes queued tasks until ctx is canceled. It must be called from
// exactly one goroutine.
func (c *Context) Run(ctx context.Context) {
	rctx := context.WithValue(ctx, renderKey{}, true)
	for {
		c.drain(rctx)
		select {
		case <-ctx.Done():
			c.logger.Debug("render context stopped")
			return
		case <-c.signal:
		}
	}
}

// Drain synchronously executes every queued task, including tasks queued by
// the tasks themselves, and returns how many ran. It is intended for callers
// that own the render goroutine without running Run.
func (c *Context) Drain(ctx context.Context) int {
	return c.drain(context.WithValue(ctx, renderKey{}, true))
}

func (c *Context) drain(ctx context.Context) int {
	n := 0
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return n
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, task := range batch {
			c.execute(ctx, task)
			n++
		}
	}
}

func (c *Context) execute(ctx context.Context, task Task) {
	defer func() {
		if err := recover(); err != nil {
			c.logger.Error("panic in render task", "error", err)
		}
	}()
	task(ctx)
}
