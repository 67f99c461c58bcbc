package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{"Remove returns OpDelete", fsnotify.Remove, OpDelete},
		{"Rename returns OpDelete", fsnotify.Rename, OpDelete},
		{"Create returns OpCreate", fsnotify.Create, OpCreate},
		{"Write returns OpModify", fsnotify.Write, OpModify},
		{"Remove takes precedence over Write", fsnotify.Remove | fsnotify.Write, OpDelete},
		{"Rename takes precedence over Create", fsnotify.Rename | fsnotify.Create, OpDelete},
		{"Create takes precedence over Write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toOperation(tt.op); got != tt.expected {
				t.Errorf("toOperation(%v) = %v, want %v", tt.op, got, tt.expected)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		prev, next, want Operation
	}{
		{OpCreate, OpModify, OpCreate},
		{OpModify, OpModify, OpModify},
		{OpModify, OpDelete, OpDelete},
		{OpCreate, OpDelete, OpDelete},
		{OpDelete, OpCreate, OpCreate},
		{OpDelete, OpModify, OpCreate},
	}
	for _, tt := range tests {
		if got := merge(tt.prev, tt.next); got != tt.want {
			t.Errorf("merge(%v, %v) = %v, want %v", tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.op.String(); got != tt.expected {
				t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func isArchive(path string) bool {
	return strings.HasSuffix(path, ".gpkg")
}

func startWatcher(t *testing.T, dir string, recursive bool) <-chan Event {
	t.Helper()

	events := make(chan Event, 16)
	w, err := New(Config{
		Paths:     []string{dir},
		Debounce:  50 * time.Millisecond,
		Recursive: recursive,
		Match:     isArchive,
	}, func(_ context.Context, e Event) error {
		events <- e
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return events
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestWatcherReportsArchiveChanges(t *testing.T) {
	dir := t.TempDir()
	events := startWatcher(t, dir, false)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "world.gpkg")
	if err := os.WriteFile(archive, []byte("tiles"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := waitEvent(t, events)
	if e.Path != archive || e.Operation != OpCreate {
		t.Errorf("event = %+v, want create of %s", e, archive)
	}

	if err := os.Remove(archive); err != nil {
		t.Fatal(err)
	}
	e = waitEvent(t, events)
	if e.Path != archive || e.Operation != OpDelete {
		t.Errorf("event = %+v, want delete of %s", e, archive)
	}

	select {
	case e := <-events:
		t.Errorf("unexpected event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "existing"), 0o755); err != nil {
		t.Fatal(err)
	}
	events := startWatcher(t, dir, true)

	nested := filepath.Join(dir, "existing", "ortho.gpkg")
	if err := os.WriteFile(nested, []byte("tiles"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e := waitEvent(t, events); e.Path != nested {
		t.Errorf("event path = %s, want %s", e.Path, nested)
	}

	added := filepath.Join(dir, "added")
	if err := os.Mkdir(added, 0o755); err != nil {
		t.Fatal(err)
	}
	// let the watcher pick up the new directory
	time.Sleep(300 * time.Millisecond)

	inAdded := filepath.Join(added, "region.gpkg")
	if err := os.WriteFile(inAdded, []byte("tiles"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e := waitEvent(t, events); e.Path != inAdded || e.Operation != OpCreate {
		t.Errorf("event = %+v, want create of %s", e, inAdded)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(Config{Paths: []string{t.TempDir()}}, func(context.Context, Event) error { return nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWatcherStartWithoutPaths(t *testing.T) {
	w, err := New(Config{Paths: []string{filepath.Join(t.TempDir(), "missing")}},
		func(context.Context, Event) error { return nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() should fail when no path can be watched")
	}
}
