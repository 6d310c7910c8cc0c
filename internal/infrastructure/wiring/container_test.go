package wiring_test

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sophialabs/traceharness/internal/infrastructure/wiring"
	"github.com/sophialabs/traceharness/internal/testutil"
)

const selfCheckCase = `id: self-check
name: harness self check
requests:
  - callback: "1"
    headers:
      - [X-Probe, probe]
expect:
  - present("")
  - present("1")
  - header("1", "x-probe")[0] == "probe"
`

func validParams(t *testing.T) wiring.Params {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "self.yaml"), []byte(selfCheckCase), 0o644); err != nil {
		t.Fatalf("failed to write case file: %v", err)
	}

	return wiring.Params{
		CasesDir:        dir,
		PublicBase:      "http://127.0.0.1:1",
		ServiceEndpoint: "http://127.0.0.1:1/",
		Timeout:         2 * time.Second,
		CaseTimeout:     5 * time.Second,
		Parallel:        2,
		TraceSize:       50,
		RateLimiterTTL:  5 * time.Minute,
		Logger:          &testutil.NoopLogger{},
	}
}

func TestNew_Success(t *testing.T) {
	p := validParams(t)
	c, err := wiring.New(p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if c.Logger() == nil {
		t.Error("Logger() returned nil")
	}
	if c.Server() == nil {
		t.Error("Server() returned nil")
	}
	if c.LoadCasesUseCase() == nil {
		t.Error("LoadCasesUseCase() returned nil")
	}
	if c.RunSuiteUseCase() == nil {
		t.Error("RunSuiteUseCase() returned nil")
	}
	if c.Reporter() == nil {
		t.Error("Reporter() returned nil")
	}
	if c.RateLimiterStore() == nil {
		t.Error("RateLimiterStore() returned nil")
	}
	if c.TraceBuf() == nil {
		t.Error("TraceBuf() returned nil")
	}
	if c.CasesDir() != p.CasesDir {
		t.Errorf("CasesDir() = %s", c.CasesDir())
	}
}

func TestNew_InvalidCasesDir(t *testing.T) {
	p := validParams(t)
	p.CasesDir = "/nonexistent/path/that/does/not/exist"

	c, err := wiring.New(p)
	if err == nil {
		c.Close()
		t.Fatal("expected error for invalid cases dir")
	}
	if c != nil {
		t.Error("expected nil container on error")
	}
}

func TestNew_UnknownReportFormat(t *testing.T) {
	p := validParams(t)
	p.ReportFormat = "xml"

	if _, err := wiring.New(p); err == nil {
		t.Fatal("expected error for unknown report format")
	}
}

func TestNew_CreatesDOTDir(t *testing.T) {
	p := validParams(t)
	p.DOTDir = filepath.Join(t.TempDir(), "graphs", "nested")

	c, err := wiring.New(p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if info, err := os.Stat(p.DOTDir); err != nil || !info.IsDir() {
		t.Errorf("DOT dir not created: %v", err)
	}
}

// The harness runs a callback-only case against itself: the runner submits to
// the container's own server, which calls back into itself.
func TestContainer_RunsSelfCheckInProcess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := validParams(t)
	p.PublicBase = "http://" + ln.Addr().String()
	p.DOTDir = t.TempDir()
	c, err := wiring.New(p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	srv := httptest.NewUnstartedServer(c.Server())
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	idx, err := c.LoadCasesUseCase().Execute(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 case, got %d", idx.Len())
	}

	report := c.RunSuiteUseCase().Execute(context.Background(), idx.All())
	if !report.OK() {
		t.Fatalf("self check failed: %+v", report.Results)
	}

	var out bytes.Buffer
	if err := c.Reporter().Render(&out, report); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out.String(), "self-check") {
		t.Errorf("report does not mention the case:\n%s", out.String())
	}

	if _, err := os.Stat(filepath.Join(p.DOTDir, "self-check.dot")); err != nil {
		t.Errorf("request tree not exported: %v", err)
	}
	if c.TraceBuf().Count() == 0 {
		t.Error("no exchanges traced")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	p := validParams(t)
	c, err := wiring.New(p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Double close must not panic.
	c.Close()
	c.Close()
}
