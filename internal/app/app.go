package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/logging"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
	"github.com/sophialabs/traceharness/internal/infrastructure/wiring"
)

// ErrSuiteFailed is returned by Run when at least one case failed.
var ErrSuiteFailed = errors.New("conformance suite failed")

// App is the thin lifecycle manager that delegates dependency construction to wiring.Container.
type App struct {
	cfg        Config
	container  *wiring.Container
	httpServer *http.Server
	out        io.Writer
	runMu      sync.Mutex
}

// New constructs the application by creating a logger, wiring infrastructure
// components via the container, and setting up the HTTP server.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.LogLevel),
	})))

	container, err := wiring.New(wiring.Params{
		CasesDir:        cfg.CasesDir,
		PublicBase:      cfg.PublicBase(),
		ServiceEndpoint: cfg.ServiceEndpoint,
		Timeout:         cfg.Timeout,
		CaseTimeout:     cfg.CaseTimeout,
		Parallel:        cfg.Parallel,
		TraceSize:       cfg.TraceSize,
		RateLimiterTTL:  cfg.RateLimiterTTL,
		CallbackRate:    cfg.CallbackRate,
		CallbackBurst:   cfg.CallbackBurst,
		DOTDir:          cfg.DOTDir,
		ReportFormat:    cfg.ReportFormat,
		ReportTemplate:  cfg.ReportTemplate,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wire infrastructure: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.BindAddr(),
		Handler:      container.Server(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		container:  container,
		httpServer: httpServer,
		out:        os.Stdout,
	}, nil
}

// SetOutput redirects reports, which go to stdout by default.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Run serves the executor, runs the suite once and prints the report. With
// ServeOnly it only serves; with Watch it re-runs on case changes until ctx
// is cancelled or SIGINT/SIGTERM arrives. A failed run yields ErrSuiteFailed.
func (a *App) Run(ctx context.Context) error {
	defer a.container.Close()
	logger := a.container.Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting executor", "addr", a.httpServer.Addr, "public", a.cfg.PublicBase(), "cases", a.cfg.CasesDir)
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	defer a.shutdown()

	if err := a.waitReady(ctx, ln.Addr().String()); err != nil {
		return err
	}

	runErr := a.runOnce(ctx)
	if a.cfg.ServeOnly || a.cfg.Watch {
		if runErr != nil && !errors.Is(runErr, ErrSuiteFailed) {
			return runErr
		}
		if a.cfg.Watch {
			watcher := a.setupWatcher(ctx)
			if watcher != nil {
				defer watcher.Stop()
			}
		}
		select {
		case err := <-serverErr:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("shutting down executor...")
			return nil
		}
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	default:
	}
	return runErr
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.container.Logger().Warn("shutdown error", "error", err)
	}
	a.container.Logger().Info("executor stopped")
}

// waitReady polls the executor's own health endpoint until it answers.
func (a *App) waitReady(ctx context.Context, addr string) error {
	health := "http://" + addr + "/__admin/health"
	client := &http.Client{Timeout: time.Second}
	err := clock.Poll(ctx, clock.New(), 50*time.Millisecond, 40, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, health, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	if err != nil {
		return fmt.Errorf("executor did not become ready: %w", err)
	}
	return nil
}

// runOnce loads the cases, publishes them on the admin API and, unless only
// serving, runs the selection and prints the report.
func (a *App) runOnce(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	idx, err := a.container.LoadCasesUseCase().Execute(ctx)
	if err != nil {
		return err
	}
	a.container.Server().SetCases(idx)
	if a.cfg.ServeOnly {
		return nil
	}

	cases, err := selectCases(idx, a.cfg.Cases)
	if err != nil {
		return err
	}

	report := a.container.RunSuiteUseCase().Execute(ctx, cases)
	if err := a.container.Reporter().Render(a.out, report); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d of %d cases failed", ErrSuiteFailed, report.Failed, report.Total)
	}
	return nil
}

func selectCases(idx *services.CaseIndex, ids []string) ([]conformance.Case, error) {
	if len(ids) == 0 {
		return idx.All(), nil
	}
	cases, unknown := idx.Select(ids)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown case id(s): %s", strings.Join(unknown, ", "))
	}
	return cases, nil
}

func (a *App) setupWatcher(ctx context.Context) *filesystem.Watcher {
	logger := a.container.Logger()

	watcher, err := filesystem.NewWatcher(a.cfg.CasesDir, a.cfg.WatcherDebounce, logger, func() {
		logger.Info("cases changed, re-running suite")
		if err := a.runOnce(ctx); err != nil {
			logger.Warn("watch run finished with errors", "error", err)
			return
		}
		logger.Info("watch run complete")
	})
	if err != nil {
		logger.Warn("file watcher not available", "error", err)
		return nil
	}

	watcher.Start()
	logger.Info("file watcher started", "root", a.cfg.CasesDir)
	return watcher
}
