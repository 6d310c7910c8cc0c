package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configurable parameters for the application.
type Config struct {
	ServiceEndpoint string

	// Host and Port form the public base URL the service under test calls
	// back to. BindHost/BindPort default to them.
	Host     string
	Port     int
	BindHost string
	BindPort int

	Timeout     time.Duration // per outbound call
	CaseTimeout time.Duration // whole test exchange

	CasesDir       string
	Cases          []string // run only these ids; empty runs all
	Parallel       int
	ReportFormat   string // "text" or "json"
	ReportTemplate string // overrides the built-in text report
	DOTDir         string
	ServeOnly      bool

	Watch           bool
	WatcherDebounce time.Duration

	TraceSize      int
	LogLevel       string
	CallbackRate   float64
	CallbackBurst  int
	RateLimiterTTL time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 7777,

		Timeout:     5 * time.Second,
		CaseTimeout: 30 * time.Second,

		CasesDir:     "./cases",
		Parallel:     4,
		ReportFormat: "text",

		WatcherDebounce: 500 * time.Millisecond,

		TraceSize:      200,
		LogLevel:       "info",
		CallbackRate:   200,
		CallbackBurst:  100,
		RateLimiterTTL: 10 * time.Minute,

		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// PublicBase is the base URL callbacks are addressed to.
func (c Config) PublicBase() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// BindAddr is the listen address of the executor.
func (c Config) BindAddr() string {
	host, port := c.BindHost, c.BindPort
	if host == "" {
		host = c.Host
	}
	if port == 0 {
		port = c.Port
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Validate reports settings the harness cannot run with.
func (c Config) Validate() error {
	if c.ServiceEndpoint == "" && !c.ServeOnly {
		return fmt.Errorf("service endpoint is required (SERVICE_ENDPOINT or -service)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BindPort < 0 || c.BindPort > 65535 {
		return fmt.Errorf("invalid bind port %d", c.BindPort)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch c.ReportFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown report format %q", c.ReportFormat)
	}
	return nil
}

// traceharness config.toml key mapping. Durations are Go duration strings.
type fileConfig struct {
	ServiceEndpoint string   `toml:"service_endpoint"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	BindHost        string   `toml:"bind_host"`
	BindPort        int      `toml:"bind_port"`
	Timeout         string   `toml:"timeout"`
	CaseTimeout     string   `toml:"case_timeout"`
	CasesDir        string   `toml:"cases_dir"`
	Cases           []string `toml:"cases"`
	Parallel        int      `toml:"parallel"`
	ReportFormat    string   `toml:"report_format"`
	ReportTemplate  string   `toml:"report_template"`
	DOTDir          string   `toml:"dot_dir"`
	Watch           bool     `toml:"watch"`
	WatcherDebounce string   `toml:"watch_debounce"`
	TraceSize       int      `toml:"trace_size"`
	LogLevel        string   `toml:"log_level"`
	CallbackRate    float64  `toml:"callback_rate"`
	CallbackBurst   int      `toml:"callback_burst"`
}

// LoadFile overlays the keys present in the TOML file at path onto cfg.
func LoadFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("service_endpoint") {
		cfg.ServiceEndpoint = strings.TrimSpace(raw.ServiceEndpoint)
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("bind_host") {
		cfg.BindHost = strings.TrimSpace(raw.BindHost)
	}
	if meta.IsDefined("bind_port") {
		cfg.BindPort = raw.BindPort
	}
	if meta.IsDefined("cases_dir") {
		cfg.CasesDir = strings.TrimSpace(raw.CasesDir)
	}
	if meta.IsDefined("cases") {
		cfg.Cases = raw.Cases
	}
	if meta.IsDefined("parallel") {
		cfg.Parallel = raw.Parallel
	}
	if meta.IsDefined("report_format") {
		cfg.ReportFormat = strings.TrimSpace(raw.ReportFormat)
	}
	if meta.IsDefined("report_template") {
		cfg.ReportTemplate = strings.TrimSpace(raw.ReportTemplate)
	}
	if meta.IsDefined("dot_dir") {
		cfg.DOTDir = strings.TrimSpace(raw.DOTDir)
	}
	if meta.IsDefined("watch") {
		cfg.Watch = raw.Watch
	}
	if meta.IsDefined("trace_size") {
		cfg.TraceSize = raw.TraceSize
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("callback_rate") {
		cfg.CallbackRate = raw.CallbackRate
	}
	if meta.IsDefined("callback_burst") {
		cfg.CallbackBurst = raw.CallbackBurst
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", raw.Timeout, &cfg.Timeout},
		{"case_timeout", raw.CaseTimeout, &cfg.CaseTimeout},
		{"watch_debounce", raw.WatcherDebounce, &cfg.WatcherDebounce},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

// LoadEnv overlays the environment variables understood by the harness onto
// cfg. lookup is os.LookupEnv outside tests.
func LoadEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("SERVICE_ENDPOINT"); ok {
		cfg.ServiceEndpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("HARNESS_HOST"); ok {
		cfg.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup("HARNESS_BIND_HOST"); ok {
		cfg.BindHost = strings.TrimSpace(v)
	}
	if v, ok := lookup("HARNESS_LOG_LEVEL"); ok {
		cfg.LogLevel = strings.TrimSpace(v)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"HARNESS_PORT", &cfg.Port},
		{"HARNESS_BIND_PORT", &cfg.BindPort},
	}
	for _, i := range ints {
		v, ok := lookup(i.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", i.name, err)
		}
		*i.dst = n
	}

	if v, ok := lookup("HARNESS_TIMEOUT"); ok {
		secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Config{}, fmt.Errorf("HARNESS_TIMEOUT: %w", err)
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}
	return cfg, nil
}
