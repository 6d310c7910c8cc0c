package conformance

import (
	"time"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// Env carries the values a payload or check may refer to. Token is set by the
// runner for each case.
type Env struct {
	ServiceEndpoint string
	Token           scope.Token
}

// Payload builds the top-level request trees of a case.
type Payload func(cb scope.Callbacks, env Env) []descriptor.Descriptor

// Check asserts on the captured nodes of a case.
type Check func(t *T, lookup capture.Resolver, env Env)

// Case is one conformance test.
type Case struct {
	ID          string
	Name        string
	Description string
	Payload     Payload
	Check       Check
}

// Report summarizes a suite run.
type Report struct {
	Results  []Result      `json:"results"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// NewReport tallies results.
func NewReport(results []Result, d time.Duration) Report {
	r := Report{Results: results, Total: len(results), Duration: d}
	for _, res := range results {
		if res.Passed() {
			r.Passed++
		} else {
			r.Failed++
		}
	}
	return r
}

// OK reports whether every case passed.
func (r Report) OK() bool {
	return r.Failed == 0
}
