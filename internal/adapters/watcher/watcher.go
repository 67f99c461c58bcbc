// Package watcher reports archive changes in local directories.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation is the kind of change observed for an archive.
type Operation int

// Archive operations.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a debounced archive change.
type Event struct {
	Path      string
	Operation Operation
}

// Handler is called for every debounced event. Calls are serialized.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration.
type Config struct {
	Paths     []string
	Debounce  time.Duration
	Recursive bool
	// Match selects the files to report. Nil reports every file.
	Match func(path string) bool
}

type pendingEvent struct {
	seen time.Time
	op   Operation
}

// Watcher debounces fsnotify events on archive files and hands them to a
// Handler one at a time.
type Watcher struct {
	fs     *fsnotify.Watcher
	cfg    Config
	handle Handler
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent

	events   chan Event
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a new watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Match == nil {
		cfg.Match = func(string) bool { return true }
	}

	return &Watcher{
		fs:      fsw,
		cfg:     cfg,
		handle:  handler,
		logger:  logger,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 64),
		stopped: make(chan struct{}),
	}, nil
}

// Start watches the configured paths until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watched := 0
	for _, path := range w.cfg.Paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 && len(w.cfg.Paths) > 0 {
		return errors.New("no watchable path")
	}

	w.wg.Add(3)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	go w.dispatchLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for a running handler to return.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopped)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// AddPath watches path, and its subdirectories when configured recursive.
func (w *Watcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !w.cfg.Recursive {
		if err := w.fs.Add(abs); err != nil {
			return err
		}
		w.logger.Info("watching directory", "path", abs)
		return nil
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(p); err != nil {
			return err
		}
		w.logger.Debug("watching directory", "path", p)
		return nil
	})
}

// RemovePath stops watching path.
func (w *Watcher) RemovePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.fs.Remove(abs)
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.observe(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// observe records an fsnotify event for debouncing.
func (w *Watcher) observe(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if w.cfg.Recursive && ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.AddPath(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if !w.cfg.Match(ev.Name) {
		return
	}

	op := toOperation(ev.Op)
	w.logger.Debug("file event", "path", ev.Name, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[ev.Name]; ok {
		p.seen = time.Now()
		p.op = merge(p.op, op)
		return
	}
	w.pending[ev.Name] = &pendingEvent{seen: time.Now(), op: op}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.cfg.Debounce/5, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case now := <-ticker.C:
			for _, ev := range w.settled(now) {
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return
				case <-w.stopped:
					return
				}
			}
		}
	}
}

// settled removes and returns the events quiet for at least the debounce
// interval.
func (w *Watcher) settled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []Event
	for path, p := range w.pending {
		if now.Sub(p.seen) < w.cfg.Debounce {
			continue
		}
		delete(w.pending, path)
		ready = append(ready, Event{Path: path, Operation: p.op})
	}
	return ready
}

func (w *Watcher) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case ev := <-w.events:
			w.logger.Info("archive changed", "path", ev.Path, "operation", ev.Operation.String())
			if err := w.handle(ctx, ev); err != nil {
				w.logger.Error("handler error",
					"path", ev.Path,
					"operation", ev.Operation.String(),
					"error", err,
				)
			}
		}
	}
}

// toOperation maps an fsnotify op; a rename is the file leaving this path.
func toOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// merge folds a new operation into a pending one.
func merge(prev, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case prev == OpDelete:
		// deleted, then written again
		return OpCreate
	case prev == OpCreate:
		return OpCreate
	default:
		return next
	}
}
