package bitmap

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/output"
)

// DefaultSize is the memo capacity used when none is configured.
const DefaultSize = 256

// retryAfter is how long a failed decode is remembered before it is retried.
const retryAfter = 5 * time.Second

// Key identifies one decoded bitmap.
type Key struct {
	Dataset    string
	Scale      float64
	SampleSize int
	LatBucket  int
}

// Sum64 returns the xxhash of the key.
func (k Key) Sum64() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Dataset)

	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(k.Scale))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(k.SampleSize)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(k.LatBucket)))
	_, _ = d.Write(buf[:])

	return d.Sum64()
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s@%g/%d/%d", k.Dataset, k.Scale, k.SampleSize, k.LatBucket)
}

// LatBucket returns the index of the latitude band of the given size that
// contains lat.
func LatBucket(lat, size float64) int {
	if size <= 0 {
		return 0
	}
	return int(math.Floor(lat / size))
}

// BucketCenter returns the center latitude of a band.
func BucketCenter(bucket int, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return (float64(bucket) + 0.5) * size
}

// Policy controls revalidation of cached bitmaps.
type Policy struct {
	// Offline disables revalidation; cached bitmaps are served indefinitely.
	Offline bool

	// RefreshInterval is the age after which a cached bitmap is redecoded in
	// the background. Zero disables refresh.
	RefreshInterval time.Duration
}

// DecodeFunc produces a bitmap.
type DecodeFunc func(ctx context.Context) (image.Image, error)

type entry struct {
	key       Key
	img       image.Image
	decodedAt time.Time
	err       error
	failedAt  time.Time
	done      chan struct{}
}

// Memo is an LRU of decoded bitmaps with stale-while-revalidate semantics:
// while a decode is in flight the last successful bitmap is served.
type Memo struct {
	mu      sync.Mutex
	cache   *lru.Cache[uint64, *entry]
	pool    *Pool
	metrics output.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemo creates a memo holding up to size bitmaps.
func NewMemo(size int, pool *Pool, metrics output.MetricsCollector, logger *slog.Logger) (*Memo, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[uint64, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating bitmap cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Memo{
		cache:   cache,
		pool:    pool,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Peek returns the cached bitmap for key without blocking. A missing or stale
// bitmap schedules a background decode; the stale bitmap is returned
// meanwhile.
func (m *Memo) Peek(key Key, policy Policy, decode DecodeFunc) (image.Image, bool) {
	m.mu.Lock()
	e := m.lookupLocked(key)
	if e.img != nil {
		if e.done == nil && m.staleLocked(e, policy) {
			m.startLocked(e, decode)
		}
		img := e.img
		m.mu.Unlock()
		m.metrics.IncCacheLookups(true)
		return img, true
	}
	if e.done == nil && !m.backoffLocked(e) {
		m.startLocked(e, decode)
	}
	m.mu.Unlock()

	m.metrics.IncCacheLookups(false)
	return nil, false
}

// Load returns the bitmap for key, decoding it if nothing is cached. A stale
// bitmap is returned immediately and revalidated in the background.
func (m *Memo) Load(ctx context.Context, key Key, policy Policy, decode DecodeFunc) (image.Image, error) {
	m.mu.Lock()
	e := m.lookupLocked(key)
	if e.img != nil {
		if e.done == nil && m.staleLocked(e, policy) {
			m.startLocked(e, decode)
		}
		img := e.img
		m.mu.Unlock()
		m.metrics.IncCacheLookups(true)
		return img, nil
	}
	if e.done == nil {
		if m.backoffLocked(e) {
			err := e.err
			m.mu.Unlock()
			m.metrics.IncCacheLookups(false)
			return nil, err
		}
		m.startLocked(e, decode)
	}
	done := e.done
	m.mu.Unlock()
	m.metrics.IncCacheLookups(false)

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	img, err := e.img, e.err
	m.mu.Unlock()

	if img == nil {
		if err == nil {
			err = domain.ErrNoImagery
		}
		return nil, err
	}
	return img, nil
}

// Purge drops every bitmap of a dataset.
func (m *Memo) Purge(dataset string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.cache.Keys() {
		if e, ok := m.cache.Peek(h); ok && e.key.Dataset == dataset {
			m.cache.Remove(h)
		}
	}
}

// Len returns the number of cached entries.
func (m *Memo) Len() int {
	return m.cache.Len()
}

// Close stops background decodes and waits for them to finish.
func (m *Memo) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Memo) lookupLocked(key Key) *entry {
	h := key.Sum64()
	if e, ok := m.cache.Get(h); ok && e.key == key {
		return e
	}
	e := &entry{key: key}
	m.cache.Add(h, e)
	return e
}

func (m *Memo) staleLocked(e *entry, policy Policy) bool {
	if policy.Offline || policy.RefreshInterval <= 0 {
		return false
	}
	return m.now().Sub(e.decodedAt) > policy.RefreshInterval
}

func (m *Memo) backoffLocked(e *entry) bool {
	return e.err != nil && m.now().Sub(e.failedAt) < retryAfter
}

func (m *Memo) startLocked(e *entry, decode DecodeFunc) {
	e.done = make(chan struct{})
	m.wg.Add(1)
	go m.run(e, decode)
}

func (m *Memo) run(e *entry, decode DecodeFunc) {
	defer m.wg.Done()

	var img image.Image
	err := m.pool.Do(m.ctx, func() error {
		var err error
		img, err = decode(m.ctx)
		return err
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil && img == nil {
		err = domain.ErrNoImagery
	}
	if err != nil {
		e.err = err
		e.failedAt = m.now()
		m.logger.Warn("bitmap decode failed", "key", e.key.String(), "error", err)
	} else {
		e.img = img
		e.err = nil
		e.decodedAt = m.now()
	}
	close(e.done)
	e.done = nil
}
