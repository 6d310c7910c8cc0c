// Package capture holds what the executor observed for each invoked node and
// resolves nodes by the logical path used when the tree was built.
package capture

import (
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// CapturedNode is the executor's report for one invoked descriptor. Headers
// are the ones the caller attached, not the ones the descriptor asked for.
type CapturedNode struct {
	URL       string                  `json:"url"`
	Headers   []descriptor.Header     `json:"headers"`
	Arguments []descriptor.Descriptor `json:"arguments"`
}

// ResultMap maps correlation keys (token, or token.path) to captured nodes.
type ResultMap map[string]CapturedNode

// Resolver looks up a node by child path; "" is the root. The boolean is
// false when the node was never invoked.
type Resolver func(path string) (CapturedNode, bool)

// Correlate binds results to token. The returned resolver is safe for
// concurrent use as long as results is not mutated afterwards.
func Correlate(results ResultMap, token scope.Token) Resolver {
	return func(path string) (CapturedNode, bool) {
		node, ok := results[token.Key(path)]
		return node, ok
	}
}
