package wiring

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/trace"
	inboundhttp "github.com/sophialabs/traceharness/internal/infrastructure/inbound/http"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/dispatch"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/executor"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/template"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
	"github.com/sophialabs/traceharness/internal/infrastructure/usecases"
)

// Params holds the subset of configuration needed to construct infrastructure components.
type Params struct {
	CasesDir        string
	PublicBase      string
	ServiceEndpoint string
	Timeout         time.Duration
	CaseTimeout     time.Duration
	Parallel        int
	TraceSize       int
	RateLimiterTTL  time.Duration
	CallbackRate    float64
	CallbackBurst   int
	DOTDir          string
	ReportFormat    string
	ReportTemplate  string
	Logger          ports.Logger
}

// Container owns the construction and lifecycle of all infrastructure components.
type Container struct {
	logger           ports.Logger
	server           *inboundhttp.Server
	loadUC           *usecases.LoadCasesUseCase
	runSuiteUC       *usecases.RunSuiteUseCase
	reporter         template.ReportRenderer
	rateLimiterStore *ratelimit.ScopeBuckets
	traceBuf         *trace.RingBuffer
	casesDir         string
	closeOnce        sync.Once
}

// New constructs all infrastructure components. Fallible operations (repository,
// report template, DOT directory) run before goroutine-starting operations
// (rate limiter store) to avoid goroutine leaks on early failure.
func New(p Params) (*Container, error) {
	if _, err := os.Stat(p.CasesDir); err != nil {
		return nil, fmt.Errorf("failed to access cases directory: %w", err)
	}

	repo, err := filesystem.NewYAMLRepository(p.CasesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	reporter, err := template.NewReportRenderer(p.ReportFormat, p.ReportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to create report renderer: %w", err)
	}

	var exporter usecases.TreeExporter
	if p.DOTDir != "" {
		if err := os.MkdirAll(p.DOTDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DOT directory: %w", err)
		}
		exporter = services.NewDOTExporter(p.DOTDir)
	}

	// Start background goroutine only after all fallible ops succeed.
	clk := clock.New()
	rateLimiterStore := ratelimit.NewScopeBuckets(p.RateLimiterTTL, clk, p.Logger)
	traceBuf := trace.NewRingBuffer(p.TraceSize)
	scopes := services.NewScopeStore()

	dispatcher := dispatch.New(&http.Client{Timeout: p.Timeout, Transport: dispatch.NewTransport()}, clk, traceBuf, p.Logger)
	submitUC := usecases.NewSubmitTestUseCase(scopes, dispatcher, rateLimiterStore, clk, traceBuf, p.Logger)
	callbackUC := usecases.NewRecordCallbackUseCase(scopes, dispatcher, rateLimiterStore,
		usecases.CallbackLimit{Rate: p.CallbackRate, Burst: p.CallbackBurst}, clk, traceBuf, p.Logger)
	server := inboundhttp.NewServer(submitUC, callbackUC, scopes, traceBuf, p.Logger, p.PublicBase)

	compiler := services.NewCaseCompiler(&template.ExprCompiler{})
	loadUC := usecases.NewLoadCasesUseCase(repo, compiler, p.Logger)

	client := executor.NewClient(p.PublicBase, &http.Client{}, p.Logger)
	runCaseUC := usecases.NewRunCaseUseCase(client, usecases.RunCaseConfig{
		PublicBase:      p.PublicBase,
		ServiceEndpoint: p.ServiceEndpoint,
		Timeout:         p.CaseTimeout,
	}, exporter, clk, p.Logger)
	runSuiteUC := usecases.NewRunSuiteUseCase(runCaseUC, p.Parallel, clk, p.Logger)

	return &Container{
		logger:           p.Logger,
		server:           server,
		loadUC:           loadUC,
		runSuiteUC:       runSuiteUC,
		reporter:         reporter,
		rateLimiterStore: rateLimiterStore,
		traceBuf:         traceBuf,
		casesDir:         p.CasesDir,
	}, nil
}

// Close releases resources held by the container. It is idempotent.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.rateLimiterStore.Stop()
	})
}

// Logger returns the logger passed at construction time.
func (c *Container) Logger() ports.Logger {
	return c.logger
}

// Server returns the executor HTTP server.
func (c *Container) Server() *inboundhttp.Server {
	return c.server
}

// LoadCasesUseCase returns the use case for loading and compiling cases.
func (c *Container) LoadCasesUseCase() *usecases.LoadCasesUseCase {
	return c.loadUC
}

// RunSuiteUseCase returns the use case that runs cases against the service.
func (c *Container) RunSuiteUseCase() *usecases.RunSuiteUseCase {
	return c.runSuiteUC
}

// Reporter returns the configured report renderer.
func (c *Container) Reporter() template.ReportRenderer {
	return c.reporter
}

// RateLimiterStore returns the per-scope buckets for callback rate limiting.
func (c *Container) RateLimiterStore() *ratelimit.ScopeBuckets {
	return c.rateLimiterStore
}

// TraceBuf returns the trace ring buffer.
func (c *Container) TraceBuf() *trace.RingBuffer {
	return c.traceBuf
}

// CasesDir returns the directory cases are loaded from.
func (c *Container) CasesDir() string {
	return c.casesDir
}
