package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

// TreeExporter receives every request tree before it is submitted.
type TreeExporter interface {
	Export(caseID string, token scope.Token, tree []descriptor.Descriptor) error
}

// RunCaseConfig holds the run-wide settings of RunCaseUseCase.
type RunCaseConfig struct {
	// PublicBase is the base URL the service under test reaches the
	// executor at; callback addresses are built under it.
	PublicBase      string
	ServiceEndpoint string
	// Timeout bounds the test exchange. Zero means no limit.
	Timeout time.Duration
}

// RunCaseUseCase runs a single case: it mints a token, builds the request
// tree, submits it in one exchange and checks the captured nodes.
type RunCaseUseCase struct {
	executor ports.Executor
	cfg      RunCaseConfig
	exporter TreeExporter
	clock    ports.Clock
	logger   ports.Logger
}

// NewRunCaseUseCase creates a new use case. exporter may be nil.
func NewRunCaseUseCase(executor ports.Executor, cfg RunCaseConfig, exporter TreeExporter, clk ports.Clock, logger ports.Logger) *RunCaseUseCase {
	return &RunCaseUseCase{executor: executor, cfg: cfg, exporter: exporter, clock: clk, logger: logger}
}

// Execute never fails; transport and decoding problems abort the case and
// are part of its result.
func (uc *RunCaseUseCase) Execute(ctx context.Context, c conformance.Case) conformance.Result {
	start := uc.clock.Now()
	token := scope.NewToken()
	log := uc.logger.With("case", c.ID, "scope", token)

	env := conformance.Env{ServiceEndpoint: uc.cfg.ServiceEndpoint, Token: token}
	var tree []descriptor.Descriptor
	if c.Payload != nil {
		tree = c.Payload(scope.NewCallbacks(uc.cfg.PublicBase, token), env)
	}
	tree = descriptor.List(tree)

	t := conformance.NewT()
	t.Logf("request: %s", compactJSON(tree))

	if uc.exporter != nil {
		if err := uc.exporter.Export(c.ID, token, tree); err != nil {
			log.Warn("failed to export request tree", "error", err)
		}
	}

	results, err := uc.submit(ctx, token, tree)
	switch {
	case errors.Is(err, ports.ErrMalformedResponse):
		t.Fatalf(conformance.KindMalformedResponse, "%v", err)
	case err != nil:
		t.Fatalf(conformance.KindTransport, "%v", err)
	default:
		t.Logf("response: %s", compactJSON(results))
		if c.Check != nil {
			c.Check(t, capture.Correlate(results, token), env)
		}
	}

	res := t.Result(c.ID, c.Name, token, clock.Elapsed(uc.clock, start))
	if res.Passed() {
		log.Info("case passed", "duration", res.Duration)
	} else {
		log.Warn("case failed", "failures", len(res.Failures), "aborted", res.Aborted)
	}
	return res
}

func (uc *RunCaseUseCase) submit(ctx context.Context, token scope.Token, tree []descriptor.Descriptor) (capture.ResultMap, error) {
	if uc.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.cfg.Timeout)
		defer cancel()
	}
	return uc.executor.Submit(ctx, token, tree)
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(raw)
}
