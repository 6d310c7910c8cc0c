// Package descriptor defines the request tree submitted to the executor.
package descriptor

import (
	"encoding/json"
	"fmt"
)

// Header is a single name/value pair. It encodes as a two element JSON array
// so that order, duplicates and the exact name casing survive transport.
type Header struct {
	Name  string
	Value string
}

// H is shorthand for Header{Name: name, Value: value}.
func H(name, value string) Header {
	return Header{Name: name, Value: value}
}

func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("header must be a [name, value] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("header must have exactly 2 elements, got %d", len(pair))
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// Descriptor asks the executor to POST to URL with Headers, sending Arguments
// as the body. Arguments describe what the receiver should call in turn.
type Descriptor struct {
	URL       string       `json:"url"`
	Headers   []Header     `json:"headers"`
	Arguments []Descriptor `json:"arguments"`
}

// New builds a descriptor node. A nil headers slice is sent as [].
func New(url string, headers []Header, children ...Descriptor) Descriptor {
	return Descriptor{URL: url, Headers: headers, Arguments: children}
}

// MarshalJSON always emits headers and arguments as arrays, never null.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type wire Descriptor
	w := wire(d)
	if w.Headers == nil {
		w.Headers = []Header{}
	}
	if w.Arguments == nil {
		w.Arguments = []Descriptor{}
	}
	return json.Marshal(w)
}

// List normalizes a top-level tree for sending: nil becomes an empty list.
func List(tree []Descriptor) []Descriptor {
	if tree == nil {
		return []Descriptor{}
	}
	return tree
}
