package ports

import (
	"context"
	"errors"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// Clock provides the current time (for testing).
type Clock interface {
	Now() time.Time
	// SleepContext blocks for d or until ctx is cancelled. Returns ctx.Err() if cancelled.
	SleepContext(ctx context.Context, d time.Duration) error
}

// Logger provides structured logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	// With returns a logger that adds args to every record.
	With(args ...any) Logger
}

// RateLimiter checks whether a request is allowed under rate limits.
type RateLimiter interface {
	// Allow checks if a request identified by key is within the rate limit.
	// rate is tokens per second, burst is the max burst size.
	Allow(ctx context.Context, key string, rate float64, burst int) bool
	// Forget drops the state kept for key.
	Forget(key string)
}

var (
	// ErrTransport covers network failures and non-success statuses of an
	// executor exchange.
	ErrTransport = errors.New("executor transport failure")
	// ErrMalformedResponse means the executor's body was not a capture map.
	ErrMalformedResponse = errors.New("malformed executor response")
)

// Executor submits a request tree for one scope and returns what was captured.
type Executor interface {
	Submit(ctx context.Context, token scope.Token, tree []descriptor.Descriptor) (capture.ResultMap, error)
}

// DispatchResult is the outcome of one outbound call.
type DispatchResult struct {
	Status int
	Err    error
}

// Dispatcher performs the outbound POST a descriptor describes. extra headers
// are sent before the descriptor's own.
type Dispatcher interface {
	Dispatch(ctx context.Context, scope scope.Token, d descriptor.Descriptor, extra []descriptor.Header) DispatchResult
}

// CaseRepository loads case definitions from storage.
type CaseRepository interface {
	LoadAll(ctx context.Context) ([]*conformance.Definition, error)
}
