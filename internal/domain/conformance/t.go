// Package conformance runs trace-context cases against the executor and
// collects named failures the way testing.T does, without panicking.
package conformance

import (
	"fmt"
	"sync"
	"time"

	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// Kind classifies a failure.
type Kind string

const (
	KindTransport         Kind = "transport"
	KindMalformedResponse Kind = "malformed-response"
	KindCardinality       Kind = "header-cardinality"
	KindGrammar           Kind = "header-grammar"
	KindNodeAbsent        Kind = "node-absent"
	KindExpectation       Kind = "expectation"
)

// Failure is one reported assertion failure.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of one case.
type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Token    scope.Token   `json:"token"`
	Failures []Failure     `json:"failures"`
	Notes    []string      `json:"notes,omitempty"`
	Aborted  bool          `json:"aborted"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the case finished without failures.
func (r Result) Passed() bool {
	return len(r.Failures) == 0 && !r.Aborted
}

// T accumulates failures for a single case. Errorf keeps going; Fatalf marks
// the case aborted and the runner stops evaluating it.
type T struct {
	mu       sync.Mutex
	failures []Failure
	notes    []string
	aborted  bool
}

// NewT returns an empty assertion context.
func NewT() *T {
	return &T{}
}

// Errorf records a failure of kind.
func (t *T) Errorf(kind Kind, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, Failure{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Fatalf records a failure of kind and aborts the case.
func (t *T) Fatalf(kind Kind, format string, args ...any) {
	t.Errorf(kind, format, args...)
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
}

// Logf records an informational note.
func (t *T) Logf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes = append(t.notes, fmt.Sprintf(format, args...))
}

// Aborted reports whether Fatalf was called.
func (t *T) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Failures returns a copy of the recorded failures.
func (t *T) Failures() []Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Failure(nil), t.failures...)
}

// Result snapshots the recorded state.
func (t *T) Result(id, name string, token scope.Token, d time.Duration) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Result{
		ID:       id,
		Name:     name,
		Token:    token,
		Failures: append([]Failure{}, t.failures...),
		Notes:    append([]string(nil), t.notes...),
		Aborted:  t.aborted,
		Duration: d,
	}
}
