package tracecontext

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTracestate is returned by ParseTracestate for any rejected value.
var ErrInvalidTracestate = errors.New("invalid tracestate")

const (
	keyWithoutVendor = `[a-z][_0-9a-z\-\*\/]{0,255}`
	keyWithVendor    = `[0-9a-z][_0-9a-z\-\*\/]{0,240}@[a-z][_0-9a-z\-\*\/]{0,13}`
	keyFormat        = keyWithoutVendor + `|` + keyWithVendor
	valueFormat      = `[\x20-\x2b\x2d-\x3c\x3e-\x7e]{0,255}[\x21-\x2b\x2d-\x3c\x3e-\x7e]`

	maxTracestateMembers = 32
	maxTracestateLength  = 512
)

var (
	memberDelimiter = regexp.MustCompile(`[ \t]*,[ \t]*`)
	memberFormat    = regexp.MustCompile(`^(` + keyFormat + `)=(` + valueFormat + `)$`)
)

// Member is one key=value entry of a tracestate list.
type Member struct {
	Key   string
	Value string
}

// Tracestate is an ordered list of vendor entries.
type Tracestate []Member

// ParseTracestate parses the combined value of all tracestate headers
// (joined with ','). Empty list members are skipped; duplicate keys and
// malformed members are rejected.
func ParseTracestate(value string) (Tracestate, error) {
	var ts Tracestate
	seen := make(map[string]bool)
	for _, raw := range memberDelimiter.Split(strings.Trim(value, " \t"), -1) {
		if raw == "" {
			continue
		}
		m := memberFormat.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("%w: illegal key-value format %q", ErrInvalidTracestate, raw)
		}
		if seen[m[1]] {
			return nil, fmt.Errorf("%w: conflict key %q", ErrInvalidTracestate, m[1])
		}
		seen[m[1]] = true
		ts = append(ts, Member{Key: m[1], Value: m[2]})
	}
	return ts, nil
}

func (ts Tracestate) String() string {
	parts := make([]string, 0, len(ts))
	for _, m := range ts {
		parts = append(parts, m.Key+"="+m.Value)
	}
	return strings.Join(parts, ",")
}

// Forwardable reports whether ts may be propagated: non-empty, at most 32
// members and at most 512 characters once serialized.
func (ts Tracestate) Forwardable() bool {
	if len(ts) == 0 || len(ts) > maxTracestateMembers {
		return false
	}
	return len(ts.String()) <= maxTracestateLength
}
