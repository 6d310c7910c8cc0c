package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sophialabs/traceharness/internal/app"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	a, err := app.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(2)
	}

	if err := a.Run(context.Background()); err != nil {
		if errors.Is(err, app.ErrSuiteFailed) {
			os.Exit(1)
		}
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// loadConfig layers defaults, the -config TOML file, the environment and
// finally the flags that were set explicitly.
func loadConfig(args []string) (app.Config, error) {
	fs := flag.NewFlagSet("traceharness", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file")

	f := app.DefaultConfig()
	var cases string
	fs.StringVar(&f.ServiceEndpoint, "service", f.ServiceEndpoint, "endpoint of the service under test")
	fs.StringVar(&f.Host, "host", f.Host, "host the service under test reaches the executor at")
	fs.IntVar(&f.Port, "port", f.Port, "port the service under test reaches the executor at")
	fs.StringVar(&f.BindHost, "bind-host", f.BindHost, "listen host (defaults to -host)")
	fs.IntVar(&f.BindPort, "bind-port", f.BindPort, "listen port (defaults to -port)")
	fs.DurationVar(&f.Timeout, "timeout", f.Timeout, "timeout of each outbound call")
	fs.DurationVar(&f.CaseTimeout, "case-timeout", f.CaseTimeout, "timeout of a whole test exchange")
	fs.StringVar(&f.CasesDir, "cases-dir", f.CasesDir, "directory of YAML case files")
	fs.StringVar(&cases, "cases", "", "comma-separated case ids to run (default all)")
	fs.IntVar(&f.Parallel, "parallel", f.Parallel, "cases run at once")
	fs.StringVar(&f.ReportFormat, "report-format", f.ReportFormat, "report format (text, json)")
	fs.StringVar(&f.ReportTemplate, "report-template", f.ReportTemplate, "pongo2 template for the text report")
	fs.StringVar(&f.DOTDir, "dot-dir", f.DOTDir, "write each case's request tree as Graphviz DOT here")
	fs.BoolVar(&f.ServeOnly, "serve-only", f.ServeOnly, "serve the executor without running cases")
	fs.BoolVar(&f.Watch, "watch", f.Watch, "re-run the suite when case files change")
	fs.DurationVar(&f.WatcherDebounce, "watch-debounce", f.WatcherDebounce, "quiet period before a watch re-run")
	fs.IntVar(&f.TraceSize, "trace-size", f.TraceSize, "number of trace entries to keep")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "log level (debug, info, warn, error)")
	fs.Float64Var(&f.CallbackRate, "callback-rate", f.CallbackRate, "callbacks per second allowed per scope (0 disables)")
	fs.IntVar(&f.CallbackBurst, "callback-burst", f.CallbackBurst, "callback burst allowed per scope")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}

	cfg := app.DefaultConfig()
	var err error
	if *configPath != "" {
		if cfg, err = app.LoadFile(cfg, *configPath); err != nil {
			return app.Config{}, err
		}
	}
	if cfg, err = app.LoadEnv(cfg, os.LookupEnv); err != nil {
		return app.Config{}, err
	}

	overrides := map[string]func(){
		"service":         func() { cfg.ServiceEndpoint = f.ServiceEndpoint },
		"host":            func() { cfg.Host = f.Host },
		"port":            func() { cfg.Port = f.Port },
		"bind-host":       func() { cfg.BindHost = f.BindHost },
		"bind-port":       func() { cfg.BindPort = f.BindPort },
		"timeout":         func() { cfg.Timeout = f.Timeout },
		"case-timeout":    func() { cfg.CaseTimeout = f.CaseTimeout },
		"cases-dir":       func() { cfg.CasesDir = f.CasesDir },
		"cases":           func() { cfg.Cases = splitList(cases) },
		"parallel":        func() { cfg.Parallel = f.Parallel },
		"report-format":   func() { cfg.ReportFormat = f.ReportFormat },
		"report-template": func() { cfg.ReportTemplate = f.ReportTemplate },
		"dot-dir":         func() { cfg.DOTDir = f.DOTDir },
		"serve-only":      func() { cfg.ServeOnly = f.ServeOnly },
		"watch":           func() { cfg.Watch = f.Watch },
		"watch-debounce":  func() { cfg.WatcherDebounce = f.WatcherDebounce },
		"trace-size":      func() { cfg.TraceSize = f.TraceSize },
		"log-level":       func() { cfg.LogLevel = f.LogLevel },
		"callback-rate":   func() { cfg.CallbackRate = f.CallbackRate },
		"callback-burst":  func() { cfg.CallbackBurst = f.CallbackBurst },
	}
	fs.Visit(func(fl *flag.Flag) {
		if apply, ok := overrides[fl.Name]; ok {
			apply()
		}
	})
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
