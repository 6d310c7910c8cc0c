package tracecontext

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidTraceparent is returned by ParseTraceparent for any rejected value.
var ErrInvalidTraceparent = errors.New("invalid traceparent")

var (
	versionFormat  = regexp.MustCompile(`^[0-9a-f]{2}$`)
	traceIDFormat  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	parentIDFormat = regexp.MustCompile(`^[0-9a-f]{16}$`)
	flagsFormat    = regexp.MustCompile(`^[0-9a-f]{2}$`)
)

const (
	zeroTraceID  = "00000000000000000000000000000000"
	zeroParentID = "0000000000000000"
)

// ParseTraceparent parses value the way a conforming tracer must before
// continuing a trace: version ff is forbidden, version 00 allows no trailing
// fields, later versions have trailing fields ignored, ids must be lowercase
// hex of the exact length and not all zero.
func ParseTraceparent(value string) (Traceparent, error) {
	parts := strings.Split(value, "-")
	if len(parts) < 4 {
		return Traceparent{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrInvalidTraceparent, len(parts))
	}
	tp := Traceparent{Version: parts[0], TraceID: parts[1], SpanID: parts[2], TraceFlags: parts[3]}

	switch {
	case !versionFormat.MatchString(tp.Version):
		return Traceparent{}, fmt.Errorf("%w: version %q", ErrInvalidTraceparent, tp.Version)
	case tp.Version == "ff":
		return Traceparent{}, fmt.Errorf("%w: version ff is not allowed", ErrInvalidTraceparent)
	case tp.Version == "00" && len(parts) != 4:
		return Traceparent{}, fmt.Errorf("%w: version 00 has %d fields", ErrInvalidTraceparent, len(parts))
	case !traceIDFormat.MatchString(tp.TraceID) || tp.TraceID == zeroTraceID:
		return Traceparent{}, fmt.Errorf("%w: trace-id %q", ErrInvalidTraceparent, tp.TraceID)
	case !parentIDFormat.MatchString(tp.SpanID) || tp.SpanID == zeroParentID:
		return Traceparent{}, fmt.Errorf("%w: parent-id %q", ErrInvalidTraceparent, tp.SpanID)
	case !flagsFormat.MatchString(tp.TraceFlags):
		return Traceparent{}, fmt.Errorf("%w: trace-flags %q", ErrInvalidTraceparent, tp.TraceFlags)
	}
	return tp, nil
}

// NewTraceparent starts a new trace with fresh ids and flags 00.
func NewTraceparent() Traceparent {
	return Traceparent{Version: "00", TraceID: NewTraceID(), SpanID: NewParentID(), TraceFlags: "00"}
}

// Child continues tp with a fresh parent id, downgrading the version to 00.
func (tp Traceparent) Child() Traceparent {
	return Traceparent{Version: "00", TraceID: tp.TraceID, SpanID: NewParentID(), TraceFlags: tp.TraceFlags}
}

// NewTraceID returns 16 random bytes as lowercase hex.
func NewTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewParentID returns 8 random bytes as lowercase hex.
func NewParentID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}
