package template

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/conformance"
)

// ExprCompiler compiles case expectations written in the Expr language.
type ExprCompiler struct{}

// Expectation is a compiled boolean expression over the captured nodes.
type Expectation struct {
	source  string
	message string
	program *vm.Program
}

// Compile type-checks source against the case environment. message is
// reported when the expression is false; "" reports the expression itself.
func (c *ExprCompiler) Compile(source, message string) (*Expectation, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty expectation")
	}
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expectation %q: %w", source, err)
	}
	return &Expectation{source: source, message: message, program: program}, nil
}

// CompileChecks compiles every expectation of a case into one check that
// evaluates them in order within a single Session.
func (c *ExprCompiler) CompileChecks(expect []conformance.ExpectDef) (conformance.Check, error) {
	compiled := make([]*Expectation, 0, len(expect))
	for i, e := range expect {
		exp, err := c.Compile(e.That, e.Message)
		if err != nil {
			return nil, fmt.Errorf("expect[%d]: %w", i, err)
		}
		compiled = append(compiled, exp)
	}
	return func(t *conformance.T, lookup capture.Resolver, env conformance.Env) {
		session := NewSession(t, lookup, env)
		for _, exp := range compiled {
			session.Evaluate(exp)
		}
	}, nil
}

// Source returns the expression text.
func (e *Expectation) Source() string { return e.source }

// exprEnv defines what an expectation can refer to.
type exprEnv struct {
	Service     string                        `expr:"service"`
	Token       string                        `expr:"token"`
	Traceparent func(string) map[string]any   `expr:"traceparent"`
	Tracestate  func(string) []string         `expr:"tracestate"`
	Present     func(string) bool             `expr:"present"`
	Arguments   func(string) int              `expr:"arguments"`
	Header      func(string, string) []string `expr:"header"`
	JSONPath    func(string, string) any      `expr:"jsonPath"`
}

// Session evaluates the expectations of one case run. Problems with a node
// (absent, bad traceparent) are reported once per path; an expectation that
// is false only because it read such a node is not reported again.
type Session struct {
	t      *conformance.T
	lookup capture.Resolver
	env    conformance.Env

	nodes   map[string]nodeResult
	parents map[string]parentResult
	tainted bool
}

// NewSession binds a session to a case's assertion context and results.
func NewSession(t *conformance.T, lookup capture.Resolver, env conformance.Env) *Session {
	return &Session{
		t:       t,
		lookup:  lookup,
		env:     env,
		nodes:   make(map[string]nodeResult),
		parents: make(map[string]parentResult),
	}
}

// Evaluate runs e and records an expectation failure when it does not hold.
func (s *Session) Evaluate(e *Expectation) {
	s.tainted = false
	out, err := expr.Run(e.program, s.exprEnv())
	if err != nil {
		s.t.Errorf(conformance.KindExpectation, "evaluating %q: %v", e.source, err)
		return
	}
	if ok, _ := out.(bool); ok || s.tainted {
		return
	}
	if e.message != "" {
		s.t.Errorf(conformance.KindExpectation, "%s (%s)", e.message, e.source)
		return
	}
	s.t.Errorf(conformance.KindExpectation, "expected %s", e.source)
}
