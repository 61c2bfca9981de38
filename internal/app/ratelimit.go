package app

import (
	"sync"
	"time"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
)

// JoinRateLimiter caps how often one identity may attempt to register
// within a sliding window.
type JoinRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.Canonical][]time.Time
	limit    int
	interval time.Duration
	clock    core.Clock
}

func NewJoinRateLimiter(limit int, interval time.Duration, clock core.Clock) *JoinRateLimiter {
	return &JoinRateLimiter{
		history:  make(map[domain.Canonical][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clock,
	}
}

func (rl *JoinRateLimiter) Allow(c domain.Canonical) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[c]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[c] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[c] = fresh
	return true
}
