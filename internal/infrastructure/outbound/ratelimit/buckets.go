// Package ratelimit bounds how fast callbacks may be recorded for a single
// scope, so a SUT stuck in a callback loop cannot flood the executor.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

var _ ports.RateLimiter = (*ScopeBuckets)(nil)

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
	denied   int
}

// ScopeBuckets keeps one token bucket per open scope. Refill follows the
// injected clock. A scope's bucket goes away with Forget when the scope
// closes, or is evicted once idle for longer than the TTL.
type ScopeBuckets struct {
	clock  ports.Clock
	logger ports.Logger
	ttl    time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// NewScopeBuckets creates the bucket set and starts its eviction goroutine.
// Call Stop to terminate it.
func NewScopeBuckets(ttl time.Duration, clk ports.Clock, logger ports.Logger) *ScopeBuckets {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &ScopeBuckets{
		clock:   clk,
		logger:  logger,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// Stop terminates the eviction goroutine. It is idempotent.
func (s *ScopeBuckets) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *ScopeBuckets) evictLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.logger.Debug("evicted idle callback buckets", "count", n)
			}
		case <-s.stop:
			return
		}
	}
}

// Allow takes one token from the scope's bucket, creating it full on first
// use. A changed rate or burst applies to the live bucket from now on. A
// rate <= 0 disables limiting.
func (s *ScopeBuckets) Allow(_ context.Context, scope string, r float64, burst int) bool {
	if r <= 0 {
		return true
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[scope]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(r), burst)}
		s.buckets[scope] = b
	}
	if b.limiter.Limit() != rate.Limit(r) {
		b.limiter.SetLimitAt(now, rate.Limit(r))
	}
	if b.limiter.Burst() != burst {
		b.limiter.SetBurstAt(now, burst)
	}
	b.lastUsed = now

	if b.limiter.AllowN(now, 1) {
		return true
	}
	b.denied++
	return false
}

// Denied returns how many callbacks of scope were refused so far.
func (s *ScopeBuckets) Denied(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[scope]; ok {
		return b.denied
	}
	return 0
}

// Forget drops the scope's bucket, logging how many of its callbacks were
// refused.
func (s *ScopeBuckets) Forget(scope string) {
	s.mu.Lock()
	b, ok := s.buckets[scope]
	delete(s.buckets, scope)
	s.mu.Unlock()

	if ok && b.denied > 0 {
		s.logger.Warn("scope closed with rate-limited callbacks", "scope", scope, "denied", b.denied)
	}
}

// Evict removes buckets idle for longer than the TTL and returns how many
// went.
func (s *ScopeBuckets) Evict() int {
	cutoff := s.clock.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for scope, b := range s.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(s.buckets, scope)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets.
func (s *ScopeBuckets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
