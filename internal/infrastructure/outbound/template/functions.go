package template

import (
	"encoding/json"

	"github.com/PaesslerAG/jsonpath"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/tracecontext"
)

type nodeResult struct {
	node capture.CapturedNode
	ok   bool
}

type parentResult struct {
	fields map[string]any
	ok     bool
}

func (s *Session) exprEnv() exprEnv {
	return exprEnv{
		Service:     s.env.ServiceEndpoint,
		Token:       s.env.Token.String(),
		Traceparent: s.traceparent,
		Tracestate:  s.tracestate,
		Present: func(path string) bool {
			_, ok := s.lookup(path)
			return ok
		},
		Arguments: func(path string) int {
			node, ok := s.lookup(path)
			if !ok {
				return -1
			}
			return len(node.Arguments)
		},
		Header:   s.header,
		JSONPath: s.jsonPath,
	}
}

// node resolves path, reporting absence on first use.
func (s *Session) node(path string) (capture.CapturedNode, bool) {
	res, seen := s.nodes[path]
	if !seen {
		res.node, res.ok = conformance.Node(s.t, s.lookup, path)
		s.nodes[path] = res
	}
	if !res.ok {
		s.tainted = true
	}
	return res.node, res.ok
}

// traceparent returns version, trace_id, span_id and trace_flags of the
// node's single traceparent header, or an empty map after reporting why not.
func (s *Session) traceparent(path string) map[string]any {
	res, seen := s.parents[path]
	if !seen {
		res = s.extractTraceparent(path)
		s.parents[path] = res
	}
	if !res.ok {
		s.tainted = true
	}
	return res.fields
}

func (s *Session) extractTraceparent(path string) parentResult {
	node, ok := s.node(path)
	if !ok {
		return parentResult{fields: map[string]any{}}
	}
	tp, err := tracecontext.ExtractTraceparent(node.Headers)
	if err != nil {
		conformance.ReportHeaderError(s.t, path, err)
		return parentResult{fields: map[string]any{}}
	}
	return parentResult{ok: true, fields: map[string]any{
		"version":     tp.Version,
		"trace_id":    tp.TraceID,
		"span_id":     tp.SpanID,
		"trace_flags": tp.TraceFlags,
	}}
}

func (s *Session) tracestate(path string) []string {
	node, ok := s.node(path)
	if !ok {
		return []string{}
	}
	return tracecontext.ExtractTracestate(node.Headers)
}

// header returns every value of the named header, ignoring name case.
func (s *Session) header(path, name string) []string {
	node, ok := s.node(path)
	values := []string{}
	if !ok {
		return values
	}
	for _, h := range tracecontext.Matching(node.Headers, name) {
		values = append(values, h.Value)
	}
	return values
}

// jsonPath queries the node as it was captured ({url, headers, arguments}).
// Query errors yield nil.
func (s *Session) jsonPath(path, query string) any {
	node, ok := s.node(path)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	result, err := jsonpath.Get(query, data)
	if err != nil {
		return nil
	}
	return result
}
