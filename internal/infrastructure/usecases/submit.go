package usecases

import (
	"context"
	"net/http"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/domain/trace"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
)

// Exchange is an inbound test or callback request as the executor saw it.
type Exchange struct {
	URL     string
	Headers []descriptor.Header
	Tree    []descriptor.Descriptor
}

func (e Exchange) node() capture.CapturedNode {
	headers := e.Headers
	if headers == nil {
		headers = []descriptor.Header{}
	}
	return capture.CapturedNode{URL: e.URL, Headers: headers, Arguments: descriptor.List(e.Tree)}
}

// SubmitTestUseCase serves one test exchange: it opens the scope, records the
// root node, performs the top-level calls in order and returns everything
// captured meanwhile.
type SubmitTestUseCase struct {
	scopes     *services.ScopeStore
	dispatcher ports.Dispatcher
	limiter    ports.RateLimiter
	clock      ports.Clock
	traceBuf   *trace.RingBuffer
	logger     ports.Logger
}

// NewSubmitTestUseCase creates a new use case.
func NewSubmitTestUseCase(
	scopes *services.ScopeStore,
	dispatcher ports.Dispatcher,
	limiter ports.RateLimiter,
	clk ports.Clock,
	traceBuf *trace.RingBuffer,
	logger ports.Logger,
) *SubmitTestUseCase {
	return &SubmitTestUseCase{
		scopes:     scopes,
		dispatcher: dispatcher,
		limiter:    limiter,
		clock:      clk,
		traceBuf:   traceBuf,
		logger:     logger,
	}
}

// Execute fails with services.ErrScopeOpen if token is already being served.
func (uc *SubmitTestUseCase) Execute(ctx context.Context, token scope.Token, ex Exchange) (capture.ResultMap, error) {
	start := uc.clock.Now()
	if err := uc.scopes.Open(token); err != nil {
		return nil, err
	}
	defer uc.limiter.Forget(token.String())

	if _, err := uc.scopes.Record(token, token.Key(""), ex.node()); err != nil {
		_, _ = uc.scopes.Close(token)
		return nil, err
	}

	log := uc.logger.With("scope", token)
	log.Info("test started", "calls", len(ex.Tree))

	accept := []descriptor.Header{descriptor.H("Accept", "application/json")}
	for _, d := range ex.Tree {
		res := uc.dispatcher.Dispatch(ctx, token, d, accept)
		if res.Err != nil {
			log.Warn("top-level call failed", "url", d.URL, "status", res.Status, "error", res.Err)
		}
	}

	results, err := uc.scopes.Close(token)
	if err != nil {
		return nil, err
	}

	uc.traceBuf.Add(trace.Entry{
		Timestamp:  start,
		Kind:       trace.KindTest,
		Scope:      token.String(),
		Key:        token.Key(""),
		Method:     http.MethodPost,
		URL:        ex.URL,
		Headers:    len(ex.Headers),
		Status:     http.StatusOK,
		DurationMs: clock.Elapsed(uc.clock, start).Milliseconds(),
	})
	log.Info("test finished", "nodes", len(results))
	return results, nil
}
