package conformance

import (
	"errors"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/tracecontext"
)

// Node resolves path and reports node-absent when the SUT never called it.
func Node(t *T, lookup capture.Resolver, path string) (capture.CapturedNode, bool) {
	node, ok := lookup(path)
	if !ok {
		t.Errorf(KindNodeAbsent, "no callback recorded for %s", DescribePath(path))
	}
	return node, ok
}

// ReportHeaderError records an extraction error under its failure kind,
// keeping the offending header set in the message.
func ReportHeaderError(t *T, path string, err error) {
	var cardinality *tracecontext.CardinalityError
	var grammar *tracecontext.GrammarError
	switch {
	case errors.As(err, &cardinality):
		t.Errorf(KindCardinality, "%s: %v", DescribePath(path), err)
	case errors.As(err, &grammar):
		t.Errorf(KindGrammar, "%s: %v", DescribePath(path), err)
	default:
		t.Errorf(KindExpectation, "%s: %v", DescribePath(path), err)
	}
}

// DescribePath names a node for messages.
func DescribePath(path string) string {
	if path == "" {
		return "root"
	}
	return "callback " + path
}
