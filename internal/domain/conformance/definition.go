package conformance

import "github.com/sophialabs/traceharness/internal/domain/descriptor"

// Target names the endpoint a node points at.
type Target string

const (
	// TargetService is the service under test.
	TargetService Target = "service"
	// TargetURL is a literal address.
	TargetURL Target = "url"
	// TargetCallback is a harness callback address for a child path.
	TargetCallback Target = "callback"
)

// Definition is a case as written in a case file, before compilation.
type Definition struct {
	ID          string
	Name        string
	Description string
	Requests    []NodeDef
	Expect      []ExpectDef

	SourceFile string
}

// NodeDef describes one request node. Exactly one of the target fields is
// meaningful, selected by Target.
type NodeDef struct {
	Target   Target
	URL      string
	Callback string
	Headers  []descriptor.Header
	Calls    []NodeDef
}

// ExpectDef is one boolean expression over the captured nodes.
type ExpectDef struct {
	That    string
	Message string
}
