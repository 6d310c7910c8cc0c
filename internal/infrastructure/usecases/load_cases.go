package usecases

import (
	"context"
	"fmt"

	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
)

// LoadCasesUseCase loads all case definitions, compiles them and builds an index.
type LoadCasesUseCase struct {
	repo     ports.CaseRepository
	compiler *services.CaseCompiler
	logger   ports.Logger
}

// NewLoadCasesUseCase creates a new use case.
func NewLoadCasesUseCase(repo ports.CaseRepository, compiler *services.CaseCompiler, logger ports.Logger) *LoadCasesUseCase {
	return &LoadCasesUseCase{repo: repo, compiler: compiler, logger: logger}
}

// Execute fails on storage errors and duplicate ids. Cases that do not
// compile are skipped with a warning.
func (uc *LoadCasesUseCase) Execute(ctx context.Context) (*services.CaseIndex, error) {
	defs, err := uc.repo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cases: %w", err)
	}
	uc.logger.Info("loaded case definitions", "count", len(defs))

	seen := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			continue
		}
		if first, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("duplicate case ID %q in %s (first defined in %s)", d.ID, d.SourceFile, first)
		}
		seen[d.ID] = d.SourceFile
	}

	index := services.NewCaseIndex()
	skipped := 0
	for _, d := range defs {
		c, err := uc.compiler.Compile(d)
		if err != nil {
			skipped++
			uc.logger.Warn("skipping case", "case", d.ID, "file", d.SourceFile, "error", err)
			continue
		}
		index.Add(c)
		uc.logger.Debug("compiled case", "case", c.ID)
	}

	if skipped > 0 {
		uc.logger.Warn("some cases failed to compile", "skipped", skipped)
	}
	uc.logger.Info("case index built", "cases", index.Len())
	return index, nil
}
