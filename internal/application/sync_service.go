package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/tessera/internal/ports/input"
)

// ErrRateLimited is returned when a sync is triggered within TriggerCooldown
// of the previous one.
var ErrRateLimited = errors.New("rate limit exceeded")

// TriggerCooldown is the minimum time between two API-triggered syncs.
const TriggerCooldown = 30 * time.Second

// SyncService keeps the registry in step with archive storage, on a schedule
// and on demand. Syncs never overlap.
type SyncService struct {
	registry *ArchiveRegistry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex // held for the duration of a sync

	mu          sync.Mutex
	lastTrigger time.Time
	next        time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

var _ input.SyncTrigger = (*SyncService)(nil)

// NewSyncService creates a new sync service. A zero interval disables
// periodic syncs; TriggerSync still works.
func NewSyncService(registry *ArchiveRegistry, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "sync"),
		now:      time.Now,
	}
}

// Start runs the scheduler until ctx is done or Stop is called.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic sync disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("starting periodic sync", "interval", s.interval)
	go s.schedule(ctx, s.done)
}

func (s *SyncService) schedule(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNext(s.now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic sync stopped")
			return
		case <-ticker.C:
			if _, err := s.sync(ctx); err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
			s.setNext(s.now().Add(s.interval))
		}
	}
}

// Stop ends the scheduler and waits for a running sync. It may be called
// more than once.
func (s *SyncService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// TriggerSync runs a sync now. Calls within TriggerCooldown of the previous
// accepted call return ErrRateLimited.
func (s *SyncService) TriggerSync(ctx context.Context) (input.SyncResult, error) {
	now := s.now()

	s.mu.Lock()
	if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < TriggerCooldown {
		s.mu.Unlock()
		return input.SyncResult{}, ErrRateLimited
	}
	s.lastTrigger = now
	s.mu.Unlock()

	return s.sync(ctx)
}

func (s *SyncService) sync(ctx context.Context) (input.SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return input.SyncResult{}, err
	}

	s.mu.Lock()
	next := s.next
	s.mu.Unlock()

	return input.SyncResult{
		ArchivesAdded:   stats.Added,
		ArchivesUpdated: stats.Updated,
		ArchivesRemoved: stats.Removed,
		ArchivesTotal:   s.registry.ArchiveCount(),
		SyncedAt:        s.now(),
		NextScheduledAt: next,
	}, nil
}

func (s *SyncService) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

// Interval returns the period of scheduled syncs, 0 when disabled.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
