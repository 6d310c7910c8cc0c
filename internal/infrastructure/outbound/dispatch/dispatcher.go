// Package dispatch performs the outbound calls the executor makes on behalf of
// a request tree.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/domain/trace"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

var _ ports.Dispatcher = (*HTTPDispatcher)(nil)

// HTTPDispatcher POSTs a descriptor's arguments to its URL.
type HTTPDispatcher struct {
	client *http.Client
	clock  ports.Clock
	trace  *trace.RingBuffer
	logger ports.Logger
}

// New creates a dispatcher. traceBuf may be nil. Header order and casing
// only survive on the wire when client uses a Transport; a nil client gets
// one.
func New(client *http.Client, clk ports.Clock, traceBuf *trace.RingBuffer, logger ports.Logger) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	return &HTTPDispatcher{client: client, clock: clk, trace: traceBuf, logger: logger}
}

// Dispatch sends extra headers followed by d.Headers, in order and with their
// names exactly as given, and d.Arguments as a JSON list. Failures are
// reported in the result, never retried.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, token scope.Token, desc descriptor.Descriptor, extra []descriptor.Header) ports.DispatchResult {
	start := d.clock.Now()
	res := d.do(ctx, desc, extra)

	entry := trace.Entry{
		Timestamp:  start,
		Kind:       trace.KindDispatch,
		Scope:      token.String(),
		Method:     http.MethodPost,
		URL:        desc.URL,
		Headers:    len(extra) + len(desc.Headers),
		Status:     res.Status,
		DurationMs: clock.Elapsed(d.clock, start).Milliseconds(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
		d.logger.Warn("dispatch failed", "scope", token, "url", desc.URL, "error", res.Err)
	} else {
		d.logger.Debug("dispatched", "scope", token, "url", desc.URL, "status", res.Status)
	}
	if d.trace != nil {
		d.trace.Add(entry)
	}
	return res
}

func (d *HTTPDispatcher) do(ctx context.Context, desc descriptor.Descriptor, extra []descriptor.Header) ports.DispatchResult {
	body, err := json.Marshal(descriptor.List(desc.Arguments))
	if err != nil {
		return ports.DispatchResult{Err: fmt.Errorf("encoding arguments: %w", err)}
	}

	headers := make([]descriptor.Header, 0, 1+len(extra)+len(desc.Headers))
	headers = append(headers, descriptor.H("Content-Type", "application/json"))
	headers = append(headers, extra...)
	headers = append(headers, desc.Headers...)

	req, err := http.NewRequestWithContext(WithHeaderOrder(ctx, headers), http.MethodPost, desc.URL, bytes.NewReader(body))
	if err != nil {
		return ports.DispatchResult{Err: err}
	}
	// For other transports; these keep casing but not order across names.
	for _, h := range headers {
		req.Header[h.Name] = append(req.Header[h.Name], h.Value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ports.DispatchResult{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.DispatchResult{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return ports.DispatchResult{Status: resp.StatusCode}
}
