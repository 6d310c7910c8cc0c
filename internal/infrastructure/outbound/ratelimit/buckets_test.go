package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/testutil"
)

type warnLogger struct {
	testutil.NoopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *warnLogger) With(...any) ports.Logger { return l }

func newBuckets(t *testing.T) (*ratelimit.ScopeBuckets, *testutil.FixedClock) {
	t.Helper()
	clk := &testutil.FixedClock{T: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := ratelimit.NewScopeBuckets(time.Minute, clk, &testutil.NoopLogger{})
	t.Cleanup(b.Stop)
	return b, clk
}

func TestScopeBuckets_AllowWithinBurst(t *testing.T) {
	b, _ := newBuckets(t)
	ctx := context.Background()

	for i := range 3 {
		if !b.Allow(ctx, "scope1", 1, 3) {
			t.Errorf("callback %d should be allowed within burst", i+1)
		}
	}
	if b.Allow(ctx, "scope1", 1, 3) {
		t.Error("callback over burst should be denied")
	}
	if n := b.Denied("scope1"); n != 1 {
		t.Errorf("Denied = %d, want 1", n)
	}
}

func TestScopeBuckets_RefillFollowsClock(t *testing.T) {
	b, clk := newBuckets(t)
	ctx := context.Background()

	b.Allow(ctx, "scope1", 1, 1)
	if b.Allow(ctx, "scope1", 1, 1) {
		t.Fatal("empty bucket should deny while the clock stands still")
	}

	clk.T = clk.T.Add(time.Second)
	if !b.Allow(ctx, "scope1", 1, 1) {
		t.Error("bucket should refill after one second at rate 1")
	}
}

func TestScopeBuckets_PerScopeIsolation(t *testing.T) {
	b, _ := newBuckets(t)
	ctx := context.Background()

	for range 2 {
		b.Allow(ctx, "scope1", 1, 2)
	}
	if !b.Allow(ctx, "scope2", 1, 2) {
		t.Error("scope2 should be allowed (separate from scope1)")
	}
	if b.Denied("scope2") != 0 {
		t.Error("scope2 charged for scope1")
	}
}

func TestScopeBuckets_ZeroRateDisablesLimiting(t *testing.T) {
	b, _ := newBuckets(t)

	for i := range 100 {
		if !b.Allow(context.Background(), "scope1", 0, 1) {
			t.Fatalf("callback %d denied with limiting disabled", i+1)
		}
	}
	if b.Len() != 0 {
		t.Errorf("expected no buckets when disabled, got %d", b.Len())
	}
}

func TestScopeBuckets_LiveBucketPicksUpNewBurst(t *testing.T) {
	b, clk := newBuckets(t)
	ctx := context.Background()

	b.Allow(ctx, "scope1", 1, 1)
	if b.Allow(ctx, "scope1", 1, 1) {
		t.Fatal("second callback should be denied at burst 1")
	}

	if b.Allow(ctx, "scope1", 1, 5) {
		t.Fatal("raising the burst must not add tokens by itself")
	}

	clk.T = clk.T.Add(5 * time.Second)
	allowed := 0
	for range 6 {
		if b.Allow(ctx, "scope1", 1, 5) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("raised burst not applied: %d allowed, want 5", allowed)
	}
}

func TestScopeBuckets_ForgetLogsDenials(t *testing.T) {
	clk := &testutil.FixedClock{T: time.Unix(0, 0)}
	logger := &warnLogger{}
	b := ratelimit.NewScopeBuckets(time.Minute, clk, logger)
	defer b.Stop()
	ctx := context.Background()

	b.Allow(ctx, "quiet", 1, 1)
	b.Forget("quiet")

	b.Allow(ctx, "noisy", 1, 1)
	b.Allow(ctx, "noisy", 1, 1)
	b.Forget("noisy")

	if len(logger.warns) != 1 {
		t.Errorf("expected one warning for the noisy scope, got %v", logger.warns)
	}
	if b.Len() != 0 {
		t.Errorf("expected 0 buckets after Forget, got %d", b.Len())
	}
	if !b.Allow(ctx, "noisy", 1, 1) {
		t.Error("a forgotten scope should start with a full bucket")
	}
}

func TestScopeBuckets_Evict(t *testing.T) {
	b, clk := newBuckets(t)
	ctx := context.Background()

	b.Allow(ctx, "idle", 1, 1)
	clk.T = clk.T.Add(30 * time.Second)
	b.Allow(ctx, "busy", 1, 1)
	clk.T = clk.T.Add(45 * time.Second)

	if n := b.Evict(); n != 1 {
		t.Errorf("Evict = %d, want 1", n)
	}
	if b.Len() != 1 {
		t.Errorf("expected only the busy bucket left, got %d", b.Len())
	}
}

func TestScopeBuckets_StopIsIdempotent(t *testing.T) {
	b := ratelimit.NewScopeBuckets(time.Minute, &testutil.FixedClock{}, &testutil.NoopLogger{})
	b.Stop()
	b.Stop()
}

func TestScopeBuckets_Concurrency(t *testing.T) {
	b, _ := newBuckets(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Allow(ctx, "scope", 1000, 1000)
			if i%10 == 0 {
				b.Forget("other")
			}
		}(i)
	}
	wg.Wait()

	if b.Len() != 1 {
		t.Errorf("expected 1 bucket, got %d", b.Len())
	}
}
