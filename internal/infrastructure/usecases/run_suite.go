package usecases

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

// CaseRunner runs one case.
type CaseRunner interface {
	Execute(ctx context.Context, c conformance.Case) conformance.Result
}

// RunSuiteUseCase runs cases with bounded parallelism and tallies a report.
type RunSuiteUseCase struct {
	runner   CaseRunner
	parallel int
	clock    ports.Clock
	logger   ports.Logger
}

// NewRunSuiteUseCase creates a new use case. parallel < 1 runs cases one at
// a time.
func NewRunSuiteUseCase(runner CaseRunner, parallel int, clk ports.Clock, logger ports.Logger) *RunSuiteUseCase {
	if parallel < 1 {
		parallel = 1
	}
	return &RunSuiteUseCase{runner: runner, parallel: parallel, clock: clk, logger: logger}
}

// Execute returns results in the order of cases regardless of completion order.
func (uc *RunSuiteUseCase) Execute(ctx context.Context, cases []conformance.Case) conformance.Report {
	start := uc.clock.Now()
	uc.logger.Info("running suite", "cases", len(cases), "parallel", uc.parallel)

	results := make([]conformance.Result, len(cases))
	var g errgroup.Group
	g.SetLimit(uc.parallel)
	for i, c := range cases {
		g.Go(func() error {
			results[i] = uc.runner.Execute(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := conformance.NewReport(results, clock.Elapsed(uc.clock, start))
	uc.logger.Info("suite finished", "total", report.Total, "passed", report.Passed, "failed", report.Failed)
	return report
}
