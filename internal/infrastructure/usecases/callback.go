package usecases

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/domain/trace"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
)

// ErrRateLimited means the scope exceeded its callback budget.
var ErrRateLimited = errors.New("callback rate exceeded")

// CallbackLimit bounds callbacks per scope; Rate <= 0 disables the limit.
type CallbackLimit struct {
	Rate  float64
	Burst int
}

// RecordCallbackUseCase records a callback under its correlation key and
// performs the calls nested in its body.
type RecordCallbackUseCase struct {
	scopes     *services.ScopeStore
	dispatcher ports.Dispatcher
	limiter    ports.RateLimiter
	limit      CallbackLimit
	clock      ports.Clock
	traceBuf   *trace.RingBuffer
	logger     ports.Logger
}

// NewRecordCallbackUseCase creates a new use case.
func NewRecordCallbackUseCase(
	scopes *services.ScopeStore,
	dispatcher ports.Dispatcher,
	limiter ports.RateLimiter,
	limit CallbackLimit,
	clk ports.Clock,
	traceBuf *trace.RingBuffer,
	logger ports.Logger,
) *RecordCallbackUseCase {
	return &RecordCallbackUseCase{
		scopes:     scopes,
		dispatcher: dispatcher,
		limiter:    limiter,
		limit:      limit,
		clock:      clk,
		traceBuf:   traceBuf,
		logger:     logger,
	}
}

// Execute handles the callback addressed by callbackID, the escaped last
// segment of its path. It fails with scope.ErrInvalidCallbackID,
// services.ErrUnknownScope or ErrRateLimited before anything is recorded.
func (uc *RecordCallbackUseCase) Execute(ctx context.Context, callbackID string, ex Exchange) error {
	start := uc.clock.Now()
	token, path, err := scope.ParseCallbackID(callbackID)
	if err != nil {
		return err
	}
	if !uc.scopes.IsOpen(token) {
		return fmt.Errorf("%w: %s", services.ErrUnknownScope, token)
	}
	if uc.limit.Rate > 0 && !uc.limiter.Allow(ctx, token.String(), uc.limit.Rate, uc.limit.Burst) {
		uc.logger.Warn("callback rate limited", "scope", token, "path", path)
		return fmt.Errorf("%w: %s", ErrRateLimited, token)
	}

	key := token.Key(path)
	replaced, err := uc.scopes.Record(token, key, ex.node())
	if err != nil {
		return err
	}
	switch {
	case replaced && path == "":
		uc.logger.Warn("root callback replaced the test record", "scope", token)
	case replaced:
		uc.logger.Debug("callback recorded again", "scope", token, "key", key)
	}

	for _, d := range ex.Tree {
		res := uc.dispatcher.Dispatch(ctx, token, d, nil)
		if res.Err != nil {
			uc.logger.Warn("nested call failed", "scope", token, "key", key, "url", d.URL, "error", res.Err)
		}
	}

	uc.traceBuf.Add(trace.Entry{
		Timestamp:  start,
		Kind:       trace.KindCallback,
		Scope:      token.String(),
		Key:        key,
		Method:     http.MethodPost,
		URL:        ex.URL,
		Headers:    len(ex.Headers),
		Status:     http.StatusOK,
		DurationMs: clock.Elapsed(uc.clock, start).Milliseconds(),
	})
	uc.logger.Debug("callback recorded", "scope", token, "key", key, "calls", len(ex.Tree))
	return nil
}
