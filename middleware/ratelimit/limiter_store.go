package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore keeps one limiter per client key, evicting the least
// recently seen client when full.
type LimiterStore struct {
	mu       sync.RWMutex
	limiters map[uint64]*timestampedLimiter
	maxSize  int
	rate     int
}

type timestampedLimiter struct {
	limiter  *limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new limiter store
func NewLimiterStore(maxSize, rateLimit int) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[uint64]*timestampedLimiter),
		maxSize:  maxSize,
		rate:     rateLimit,
	}
}

// Get returns the limiter of key, creating it on first use.
func (s *LimiterStore) Get(key uint64) *limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if tl, ok := s.limiters[key]; ok {
		tl.lastSeen = now
		return tl.limiter
	}

	if len(s.limiters) >= s.maxSize {
		s.evictOne()
	}

	limit := rate.Limit(0)
	if s.rate > 0 {
		limit = rate.Every(time.Minute / time.Duration(s.rate))
	}

	l := &limiter{rl: rate.NewLimiter(limit, s.rate)}

	s.limiters[key] = &timestampedLimiter{
		limiter:  l,
		lastSeen: now,
	}

	return l
}

const evictSample = 100

// evictOne removes the oldest of a sample of entries.
func (s *LimiterStore) evictOne() {
	var oldestKey uint64
	var oldestTime time.Time
	first := true

	sampled := 0
	for k, v := range s.limiters {
		if first || v.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastSeen
			first = false
		}

		// large stores only look at a random sample
		if sampled++; sampled >= evictSample {
			break
		}
	}

	if !first {
		delete(s.limiters, oldestKey)
	}
}

// Cleanup removes entries older than duration
func (s *LimiterStore) Cleanup(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for k, v := range s.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(s.limiters, k)
		}
	}
}

// Len returns the number of limiters
func (s *LimiterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}
