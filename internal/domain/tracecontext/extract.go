// Package tracecontext reads W3C trace-context headers out of captured header
// lists and, for the reference service, parses and generates them strictly.
package tracecontext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
)

// Header names, matched case-insensitively.
const (
	TraceparentHeader = "traceparent"
	TracestateHeader  = "tracestate"
)

var traceparentFormat = regexp.MustCompile(`^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

// Traceparent holds the four fields of a traceparent value.
type Traceparent struct {
	Version    string `json:"version"`
	TraceID    string `json:"trace_id"`
	SpanID     string `json:"span_id"`
	TraceFlags string `json:"trace_flags"`
}

func (tp Traceparent) String() string {
	return tp.Version + "-" + tp.TraceID + "-" + tp.SpanID + "-" + tp.TraceFlags
}

// CardinalityError reports zero or several headers where exactly one was expected.
type CardinalityError struct {
	Name    string
	Matches []descriptor.Header
}

func (e *CardinalityError) Error() string {
	values := make([]string, 0, len(e.Matches))
	for _, h := range e.Matches {
		values = append(values, fmt.Sprintf("%q: %q", h.Name, h.Value))
	}
	return fmt.Sprintf("expect 1 %s header, got %d [%s]", e.Name, len(e.Matches), strings.Join(values, ", "))
}

// GrammarError reports a header value that does not match the required format.
type GrammarError struct {
	Name  string
	Value string
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("failed to parse %s header, unknown format %q", e.Name, e.Value)
}

// ExtractTraceparent returns the fields of the single traceparent header in
// headers. It fails with *CardinalityError unless exactly one header is named
// traceparent (any casing), and with *GrammarError if its value is not
// version-traceid-parentid-flags in lowercase hex of lengths 2/32/16/2.
func ExtractTraceparent(headers []descriptor.Header) (Traceparent, error) {
	matches := Matching(headers, TraceparentHeader)
	if len(matches) != 1 {
		return Traceparent{}, &CardinalityError{Name: TraceparentHeader, Matches: matches}
	}

	m := traceparentFormat.FindStringSubmatch(matches[0].Value)
	if m == nil {
		return Traceparent{}, &GrammarError{Name: TraceparentHeader, Value: matches[0].Value}
	}
	return Traceparent{Version: m[1], TraceID: m[2], SpanID: m[3], TraceFlags: m[4]}, nil
}

// ExtractTracestate returns the values of every tracestate header in order.
// Zero headers yield an empty, non-nil slice. Values are not validated.
func ExtractTracestate(headers []descriptor.Header) []string {
	matches := Matching(headers, TracestateHeader)
	values := make([]string, 0, len(matches))
	for _, h := range matches {
		values = append(values, h.Value)
	}
	return values
}

// Matching returns the headers whose name equals name, ignoring ASCII case.
func Matching(headers []descriptor.Header, name string) []descriptor.Header {
	var out []descriptor.Header
	for _, h := range headers {
		if asciiEqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	return out
}

// asciiEqualFold is strings.EqualFold restricted to ASCII; header names are
// tokens, so "traceſtate" must not match "tracestate".
func asciiEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
