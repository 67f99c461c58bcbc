package engine

import (
	"context"
	"sync"

	"github.com/jobrunner/tessera/internal/domain"
)

type item string

func (i item) Key() string { return string(i) }

type handle struct {
	key      string
	released bool
}

// mockQuerier implements Querier with recorded calls.
type mockQuerier struct {
	mu       sync.Mutex
	queryFn  func(ctx context.Context, view domain.ViewState) ([]item, error)
	queries  []domain.ViewState
	created  []string
	released []string
	swaps    int
	lastLive []*handle
}

func (m *mockQuerier) Query(ctx context.Context, view domain.ViewState) ([]item, error) {
	m.mu.Lock()
	m.queries = append(m.queries, view)
	fn := m.queryFn
	m.mu.Unlock()
	return fn(ctx, view)
}

func (m *mockQuerier) Create(_ context.Context, it item) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, string(it))
	return &handle{key: string(it)}
}

func (m *mockQuerier) Release(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.released = true
	m.released = append(m.released, h.key)
}

func (m *mockQuerier) Swapped(_ context.Context, _ domain.ViewState, live []*handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps++
	m.lastLive = live
}

func (m *mockQuerier) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

func (m *mockQuerier) swapCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swaps
}

func (m *mockQuerier) snapshot() (created, released []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...), append([]string(nil), m.released...)
}
