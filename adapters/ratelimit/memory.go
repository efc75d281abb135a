package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a fixed-window counter kept in process memory. Expired
// windows are dropped by a janitor goroutine until Close is called.
type MemoryStore struct {
	limit  int
	period time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*window

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore allows limit requests per key in every period.
func NewMemoryStore(limit int, period time.Duration, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	s := &MemoryStore{
		limit:   limit,
		period:  period,
		clock:   clk,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Take implements domain.RateLimitStore.
func (s *MemoryStore) Take(_ context.Context, key string) (domain.RateLimitDecision, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(s.period)}
		s.windows[key] = w
	}

	w.count++
	remaining := s.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   w.count <= s.limit,
		Limit:     s.limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

// Len reports how many keys currently hold a window.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep removes every window that has expired.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) janitor() {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.With(zap.Int("removed", n)).Debug("Swept expired rate limit windows")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
