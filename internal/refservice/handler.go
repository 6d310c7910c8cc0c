// Package refservice is a correctly propagating service under test. Each POST
// carries a JSON list of descriptors; the handler continues the incoming
// trace (or starts a new one) and calls every descriptor with the resulting
// trace-context headers.
package refservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/tracecontext"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

const maxBodySize = 10 << 20 // 10 MB

// Handler propagates trace context to the calls described in its body.
type Handler struct {
	router  *chi.Mux
	client  *http.Client
	timeout time.Duration
	logger  ports.Logger
}

// New returns a Handler that calls downstream with client. timeout bounds
// each downstream call; zero means no limit beyond the client's own.
func New(client *http.Client, timeout time.Duration, logger ports.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	h := &Handler{client: client, timeout: timeout, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/*", h.handlePropagate)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handlePropagate(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	var calls []descriptor.Descriptor
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&calls); err != nil {
		http.Error(w, "body must be a JSON array of descriptors", http.StatusBadRequest)
		return
	}

	tp, ts := Propagate(r.Header)
	h.logger.Debug("propagating", "path", r.URL.Path, "trace_id", tp.TraceID, "tracestate", ts.String(), "calls", len(calls))

	// Every call is a new span of the same trace.
	for _, d := range calls {
		if err := h.call(r.Context(), d, tp.Child(), ts); err != nil {
			h.logger.Warn("downstream call failed", "url", d.URL, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) call(ctx context.Context, d descriptor.Descriptor, tp tracecontext.Traceparent, ts tracecontext.Tracestate) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	body, err := json.Marshal(descriptor.List(d.Arguments))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header[tracecontext.TraceparentHeader] = []string{tp.String()}
	if ts.Forwardable() {
		req.Header[tracecontext.TracestateHeader] = []string{ts.String()}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Propagate derives the trace context to continue from incoming headers. A
// single valid traceparent is returned as is, with its tracestate when that
// parses; anything else starts a new trace with no tracestate. Callers mint
// a parent id per outgoing call with Child.
func Propagate(h http.Header) (tracecontext.Traceparent, tracecontext.Tracestate) {
	parents := h.Values(tracecontext.TraceparentHeader)
	if len(parents) != 1 {
		return tracecontext.NewTraceparent(), nil
	}
	incoming, err := tracecontext.ParseTraceparent(parents[0])
	if err != nil {
		return tracecontext.NewTraceparent(), nil
	}

	ts, err := tracecontext.ParseTracestate(strings.Join(h.Values(tracecontext.TracestateHeader), ","))
	if err != nil {
		ts = nil
	}
	return incoming, ts
}
