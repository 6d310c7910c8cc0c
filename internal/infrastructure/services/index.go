package services

import (
	"sort"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
)

// CaseIndex holds compiled cases in load order with lookup by id.
type CaseIndex struct {
	cases []conformance.Case
	byID  map[string]int
}

// NewCaseIndex creates an empty index.
func NewCaseIndex() *CaseIndex {
	return &CaseIndex{byID: make(map[string]int)}
}

// Add appends c. It returns false, leaving the index unchanged, when the id
// is already taken.
func (idx *CaseIndex) Add(c conformance.Case) bool {
	if _, dup := idx.byID[c.ID]; dup {
		return false
	}
	idx.byID[c.ID] = len(idx.cases)
	idx.cases = append(idx.cases, c)
	return true
}

// Lookup returns the case with id.
func (idx *CaseIndex) Lookup(id string) (conformance.Case, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return conformance.Case{}, false
	}
	return idx.cases[i], true
}

// All returns every case in load order.
func (idx *CaseIndex) All() []conformance.Case {
	return append([]conformance.Case(nil), idx.cases...)
}

// Select returns the cases named by ids in load order, plus the ids that
// matched nothing. An empty ids selects everything.
func (idx *CaseIndex) Select(ids []string) ([]conformance.Case, []string) {
	if len(ids) == 0 {
		return idx.All(), nil
	}
	want := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if _, ok := idx.byID[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		want[id] = true
	}
	var out []conformance.Case
	for _, c := range idx.cases {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, unknown
}

// IDs returns all ids, sorted.
func (idx *CaseIndex) IDs() []string {
	ids := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of cases.
func (idx *CaseIndex) Len() int { return len(idx.cases) }
