// Package executor submits request trees to the executor's test endpoint and
// decodes the flattened capture map it answers with.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

// TestPathPrefix is the submission path; the scope token is appended.
const TestPathPrefix = "/test/"

const maxResponseSize = 10 << 20 // 10 MB

// Aliases of the port errors so callers of this package need not import ports.
var (
	ErrTransport         = ports.ErrTransport
	ErrMalformedResponse = ports.ErrMalformedResponse
)

// StatusError carries a non-success status. It matches ErrTransport.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("executor answered %s", e.Status)
}

func (e *StatusError) Is(target error) bool { return target == ErrTransport }

var _ ports.Executor = (*Client)(nil)

// Client talks to one executor.
type Client struct {
	base   string
	http   *http.Client
	logger ports.Logger
}

// NewClient creates a client for the executor at base. A nil httpClient
// means http.DefaultClient.
func NewClient(base string, httpClient *http.Client, logger ports.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(base, "/"), http: httpClient, logger: logger}
}

// Submit posts tree to <base>/test/<token> in a single exchange. A non-2xx
// status fails with *StatusError without reading the body.
func (c *Client) Submit(ctx context.Context, token scope.Token, tree []descriptor.Descriptor) (capture.ResultMap, error) {
	body, err := json.Marshal(descriptor.List(tree))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request tree: %w", err)
	}

	url := c.base + TestPathPrefix + token.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("submitting test", "scope", token, "url", url, "bytes", len(body))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	var results capture.ResultMap
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if results == nil {
		return nil, fmt.Errorf("%w: body is null", ErrMalformedResponse)
	}
	c.logger.Debug("test submitted", "scope", token, "nodes", len(results))
	return results, nil
}
