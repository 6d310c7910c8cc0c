package services_test

import (
	"errors"
	"testing"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
)

// stubExpectations returns a check that always reports one marker failure,
// or err.
type stubExpectations struct {
	seen [][]conformance.ExpectDef
	err  error
}

func (s *stubExpectations) CompileChecks(expect []conformance.ExpectDef) (conformance.Check, error) {
	s.seen = append(s.seen, expect)
	if s.err != nil {
		return nil, s.err
	}
	return func(t *conformance.T, _ capture.Resolver, env conformance.Env) {
		t.Errorf(conformance.KindExpectation, "checked %s", env.Token)
	}, nil
}

func TestCaseCompiler_BuildsPayload(t *testing.T) {
	exp := &stubExpectations{}
	c := services.NewCaseCompiler(exp)

	def := &conformance.Definition{
		ID: "nested",
		Requests: []conformance.NodeDef{{
			Target:  conformance.TargetService,
			Headers: []descriptor.Header{descriptor.H("TraceParent", "x")},
			Calls: []conformance.NodeDef{
				{Target: conformance.TargetCallback, Callback: "1", Calls: []conformance.NodeDef{
					{Target: conformance.TargetURL, URL: "http://other/"},
				}},
				{Target: conformance.TargetCallback, Callback: ""},
			},
		}},
		Expect: []conformance.ExpectDef{{That: "true"}},
	}

	cs, err := c.Compile(def)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if cs.Name != "nested" {
		t.Errorf("name should default to id, got %q", cs.Name)
	}
	if len(exp.seen) != 1 || len(exp.seen[0]) != 1 {
		t.Errorf("expectations not compiled: %+v", exp.seen)
	}

	cb := scope.NewCallbacks("http://harness:7777", "tok")
	tree := cs.Payload(cb, conformance.Env{ServiceEndpoint: "http://sut/test"})
	if len(tree) != 1 {
		t.Fatalf("expected 1 root, got %d", len(tree))
	}
	root := tree[0]
	if root.URL != "http://sut/test" || root.Headers[0].Name != "TraceParent" {
		t.Errorf("unexpected root %+v", root)
	}
	if len(root.Arguments) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(root.Arguments))
	}
	if got := root.Arguments[0].URL; got != "http://harness:7777/callback/tok.1" {
		t.Errorf("callback url = %s", got)
	}
	if got := root.Arguments[0].Arguments[0].URL; got != "http://other/" {
		t.Errorf("literal url = %s", got)
	}
	if got := root.Arguments[1].URL; got != "http://harness:7777/callback/tok" {
		t.Errorf("root callback url = %s", got)
	}

	// Payloads are independent per run.
	tree[0].Headers[0].Name = "mutated"
	again := cs.Payload(cb, conformance.Env{})
	if again[0].Headers[0].Name != "TraceParent" {
		t.Error("payload shares header storage between runs")
	}

	ct := conformance.NewT()
	cs.Check(ct, nil, conformance.Env{Token: "tok"})
	if f := ct.Failures(); len(f) != 1 || f[0].Message != "checked tok" {
		t.Errorf("check not wired: %+v", f)
	}
}

func TestCaseCompiler_Rejects(t *testing.T) {
	valid := []conformance.NodeDef{{Target: conformance.TargetService}}
	tests := map[string]*conformance.Definition{
		"no id":          {Requests: valid},
		"no requests":    {ID: "x"},
		"no target":      {ID: "x", Requests: []conformance.NodeDef{{}}},
		"unknown target": {ID: "x", Requests: []conformance.NodeDef{{Target: "elsewhere"}}},
		"empty url":      {ID: "x", Requests: []conformance.NodeDef{{Target: conformance.TargetURL}}},
		"nested":         {ID: "x", Requests: []conformance.NodeDef{{Target: conformance.TargetService, Calls: []conformance.NodeDef{{}}}}},
	}
	for name, def := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := services.NewCaseCompiler(&stubExpectations{}).Compile(def)
			if !errors.Is(err, services.ErrInvalidCase) {
				t.Errorf("expected ErrInvalidCase, got %v", err)
			}
		})
	}

	_, err := services.NewCaseCompiler(&stubExpectations{err: errors.New("bad expr")}).Compile(&conformance.Definition{ID: "x", Requests: valid})
	if !errors.Is(err, services.ErrInvalidCase) {
		t.Errorf("expression errors should be ErrInvalidCase, got %v", err)
	}
}
