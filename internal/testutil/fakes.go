package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

var _ ports.Logger = (*NoopLogger)(nil)

// NoopLogger discards all log output.
type NoopLogger struct{}

func (l *NoopLogger) Info(string, ...any)      {}
func (l *NoopLogger) Warn(string, ...any)      {}
func (l *NoopLogger) Error(string, ...any)     {}
func (l *NoopLogger) Debug(string, ...any)     {}
func (l *NoopLogger) With(...any) ports.Logger { return l }

var _ ports.Clock = (*FixedClock)(nil)

// FixedClock returns a fixed time and never sleeps. Sleeps counts calls to
// SleepContext.
type FixedClock struct {
	T      time.Time
	Sleeps int
}

func (c *FixedClock) Now() time.Time { return c.T }
func (c *FixedClock) SleepContext(ctx context.Context, _ time.Duration) error {
	c.Sleeps++
	return ctx.Err()
}

var _ ports.RateLimiter = (*StubRateLimiter)(nil)

// StubRateLimiter returns a configurable Allow result and records Forget calls.
type StubRateLimiter struct {
	AllowAll  bool
	Forgotten []string
}

func (r *StubRateLimiter) Allow(context.Context, string, float64, int) bool {
	return r.AllowAll
}

func (r *StubRateLimiter) Forget(key string) {
	r.Forgotten = append(r.Forgotten, key)
}

var _ ports.Dispatcher = (*RecordingDispatcher)(nil)

// DispatchCall is one call seen by RecordingDispatcher.
type DispatchCall struct {
	Scope      scope.Token
	Descriptor descriptor.Descriptor
	Extra      []descriptor.Header
}

// RecordingDispatcher records dispatches and answers with Result. OnDispatch,
// if set, runs synchronously for each call after it is recorded.
type RecordingDispatcher struct {
	mu         sync.Mutex
	Calls      []DispatchCall
	Result     ports.DispatchResult
	OnDispatch func(d descriptor.Descriptor)
}

func (r *RecordingDispatcher) Dispatch(_ context.Context, token scope.Token, d descriptor.Descriptor, extra []descriptor.Header) ports.DispatchResult {
	r.mu.Lock()
	r.Calls = append(r.Calls, DispatchCall{Scope: token, Descriptor: d, Extra: extra})
	result := r.Result
	r.mu.Unlock()
	if r.OnDispatch != nil {
		r.OnDispatch(d)
	}
	return result
}

var _ ports.Executor = (*StubExecutor)(nil)

// StubExecutor answers Submit with a result computed by Respond.
type StubExecutor struct {
	Respond func(token scope.Token, tree []descriptor.Descriptor) (capture.ResultMap, error)
}

func (e *StubExecutor) Submit(_ context.Context, token scope.Token, tree []descriptor.Descriptor) (capture.ResultMap, error) {
	return e.Respond(token, tree)
}
