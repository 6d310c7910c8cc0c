// Package trace keeps a bounded log of the exchanges the executor served and
// the outbound calls it dispatched, for inspection through the admin API.
package trace

import "time"

// Kind identifies which side of the protocol produced an entry.
type Kind string

const (
	KindTest     Kind = "test"
	KindCallback Kind = "callback"
	KindDispatch Kind = "dispatch"
)

// Entry is one observed exchange.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	Scope      string    `json:"scope"`
	Key        string    `json:"key,omitempty"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Headers    int       `json:"headers"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}
