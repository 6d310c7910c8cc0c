package services

import (
	"errors"
	"fmt"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// ErrInvalidCase is wrapped by every CaseCompiler error.
var ErrInvalidCase = errors.New("invalid case")

// ExpectationCompiler turns a case's expectations into a single check.
type ExpectationCompiler interface {
	CompileChecks(expect []conformance.ExpectDef) (conformance.Check, error)
}

// CaseCompiler transforms case definitions into runnable cases.
type CaseCompiler struct {
	expectations ExpectationCompiler
}

// NewCaseCompiler creates a compiler using expectations for the expect list.
func NewCaseCompiler(expectations ExpectationCompiler) *CaseCompiler {
	return &CaseCompiler{expectations: expectations}
}

// Compile validates def and binds its request tree and expectations.
func (c *CaseCompiler) Compile(def *conformance.Definition) (conformance.Case, error) {
	if def.ID == "" {
		return conformance.Case{}, fmt.Errorf("%w: missing id", ErrInvalidCase)
	}
	if len(def.Requests) == 0 {
		return conformance.Case{}, fmt.Errorf("%w %q: no requests", ErrInvalidCase, def.ID)
	}
	for i, n := range def.Requests {
		if err := validateNode(n, fmt.Sprintf("requests[%d]", i)); err != nil {
			return conformance.Case{}, fmt.Errorf("%w %q: %v", ErrInvalidCase, def.ID, err)
		}
	}

	check, err := c.expectations.CompileChecks(def.Expect)
	if err != nil {
		return conformance.Case{}, fmt.Errorf("%w %q: %v", ErrInvalidCase, def.ID, err)
	}

	name := def.Name
	if name == "" {
		name = def.ID
	}
	requests := def.Requests
	return conformance.Case{
		ID:          def.ID,
		Name:        name,
		Description: def.Description,
		Payload: func(cb scope.Callbacks, env conformance.Env) []descriptor.Descriptor {
			return buildNodes(requests, cb, env)
		},
		Check: check,
	}, nil
}

func validateNode(n conformance.NodeDef, at string) error {
	switch n.Target {
	case conformance.TargetService, conformance.TargetCallback:
	case conformance.TargetURL:
		if n.URL == "" {
			return fmt.Errorf("%s: empty url", at)
		}
	case "":
		return fmt.Errorf("%s: set exactly one of target, url or callback", at)
	default:
		return fmt.Errorf("%s: unknown target %q", at, n.Target)
	}
	for i, child := range n.Calls {
		if err := validateNode(child, fmt.Sprintf("%s.calls[%d]", at, i)); err != nil {
			return err
		}
	}
	return nil
}

func buildNodes(defs []conformance.NodeDef, cb scope.Callbacks, env conformance.Env) []descriptor.Descriptor {
	out := make([]descriptor.Descriptor, 0, len(defs))
	for _, n := range defs {
		var url string
		switch n.Target {
		case conformance.TargetService:
			url = env.ServiceEndpoint
		case conformance.TargetCallback:
			url = cb.Address(n.Callback)
		default:
			url = n.URL
		}
		headers := append([]descriptor.Header(nil), n.Headers...)
		out = append(out, descriptor.New(url, headers, buildNodes(n.Calls, cb, env)...))
	}
	return out
}
