package render

import "sync"

// ControlKey names a control interface a layer can expose.
type ControlKey string

// Well-known controls.
const (
	ControlAttribution  ControlKey = "attribution"
	ControlSelection    ControlKey = "selection"
	ControlTransparency ControlKey = "transparency"
)

// Controls is a tag-to-implementation registry. Several implementations may
// be registered under the same key.
type Controls struct {
	mu      sync.RWMutex
	entries map[ControlKey][]any
}

// NewControls creates an empty registry.
func NewControls() *Controls {
	return &Controls{entries: make(map[ControlKey][]any)}
}

// Register adds impl under key.
func (c *Controls) Register(key ControlKey, impl any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append(c.entries[key], impl)
}

// Unregister removes impl from key. It compares by identity, so impl must be
// a comparable value such as a pointer.
func (c *Controls) Unregister(key ControlKey, impl any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[key]
	for i, v := range list {
		if v == impl {
			c.entries[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.entries[key]) == 0 {
		delete(c.entries, key)
	}
}

// All returns every implementation registered under key.
func (c *Controls) All(key ControlKey) []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]any(nil), c.entries[key]...)
}

// Lookup returns the first implementation under key that satisfies T.
func Lookup[T any](c *Controls, key ControlKey) (T, bool) {
	for _, v := range c.All(key) {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}
