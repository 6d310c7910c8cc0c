package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/executor"
	"github.com/sophialabs/traceharness/internal/testutil"
)

func TestClient_SubmitPostsTreeAndDecodesResults(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("request body is not a list: %v (%s)", err, raw)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"tok": {"url": "http://h/test/tok", "headers": [["Accept", "application/json"]], "arguments": []},
			"tok.1": {"url": "http://h/callback/tok.1", "headers": [["Traceparent", "00-x"]], "arguments": []}
		}`)
	}))
	defer ts.Close()

	client := executor.NewClient(ts.URL+"/", ts.Client(), &testutil.NoopLogger{})
	tree := []descriptor.Descriptor{
		descriptor.New("http://sut/", []descriptor.Header{descriptor.H("TraceParent", "00-abc")},
			descriptor.New("http://h/callback/tok.1", nil)),
	}

	results, err := client.Submit(context.Background(), scope.Token("tok"), tree)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if gotPath != "/test/tok" {
		t.Errorf("expected path /test/tok, got %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if len(gotBody) != 1 {
		t.Fatalf("expected 1 root descriptor, got %d", len(gotBody))
	}
	headers, _ := gotBody[0]["headers"].([]any)
	if len(headers) != 1 {
		t.Fatalf("expected 1 header pair, got %v", gotBody[0]["headers"])
	}
	if pair, _ := headers[0].([]any); len(pair) != 2 || pair[0] != "TraceParent" {
		t.Errorf("header name casing not preserved: %v", headers[0])
	}
	children, _ := gotBody[0]["arguments"].([]any)
	child, _ := children[0].(map[string]any)
	if child["headers"] == nil {
		t.Error("child headers should be sent as [] rather than null")
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(results))
	}
	if results["tok.1"].Headers[0].Name != "Traceparent" {
		t.Errorf("unexpected captured headers: %+v", results["tok.1"].Headers)
	}
}

func TestClient_NonSuccessStatusIsTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "not json at all")
	}))
	defer ts.Close()

	client := executor.NewClient(ts.URL, ts.Client(), &testutil.NoopLogger{})
	_, err := client.Submit(context.Background(), scope.NewToken(), nil)

	if !errors.Is(err, executor.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if errors.Is(err, executor.ErrMalformedResponse) {
		t.Error("body must not be parsed on a failed status")
	}
	var statusErr *executor.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected StatusError 500, got %v", err)
	}
}

func TestClient_MalformedBody(t *testing.T) {
	bodies := map[string]string{
		"not json": `<html>`,
		"list":     `[]`,
		"null":     `null`,
		"bad node": `{"tok": {"headers": [["only-name"]]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer ts.Close()

			client := executor.NewClient(ts.URL, ts.Client(), &testutil.NoopLogger{})
			_, err := client.Submit(context.Background(), scope.NewToken(), nil)
			if !errors.Is(err, executor.ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestClient_UnreachableExecutor(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client := executor.NewClient(url, nil, &testutil.NoopLogger{})
	_, err := client.Submit(context.Background(), scope.NewToken(), nil)
	if !errors.Is(err, executor.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}
