// Package scope generates per-test correlation tokens and the callback
// addresses derived from them.
package scope

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCallbackID indicates a callback id that does not start with a token.
	ErrInvalidCallbackID = errors.New("invalid callback id")
	// ErrInvalidToken indicates a token that could not be told apart from a
	// token plus path.
	ErrInvalidToken = errors.New("invalid scope token")
)

// CallbackPrefix is the path segment under which callback addresses are served.
const CallbackPrefix = "/callback/"

// Token is the root correlation id of one test run.
type Token string

// NewToken returns a token holding 128 random bits as lowercase hex.
// It never contains '.' or '/'.
func NewToken() Token {
	u := uuid.New()
	return Token(hex.EncodeToString(u[:]))
}

func (t Token) String() string { return string(t) }

// ParseToken accepts an externally supplied token: non-empty, without '.'
// or '/'.
func ParseToken(s string) (Token, error) {
	if s == "" || strings.ContainsAny(s, "./") {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}
	return Token(s), nil
}

// Key returns the correlation key for path: the token itself for the root,
// token + "." + path otherwise.
func (t Token) Key(path string) string {
	if path == "" {
		return string(t)
	}
	return string(t) + "." + path
}

// JoinPath joins child path segments with '.'.
func JoinPath(segments ...string) string {
	return strings.Join(segments, ".")
}

// Callbacks builds callback addresses for one token under a public base URL.
type Callbacks struct {
	base  string
	token Token
}

// NewCallbacks returns a factory for addresses under base (scheme, host and
// optional path prefix, no trailing slash required).
func NewCallbacks(base string, token Token) Callbacks {
	return Callbacks{base: strings.TrimSuffix(base, "/"), token: token}
}

// Token returns the token the addresses are bound to.
func (c Callbacks) Token() Token { return c.token }

// Address returns the callback address for path ("" for the root).
// The path is embedded path-escaped so ParseCallbackID can invert it exactly.
func (c Callbacks) Address(path string) string {
	return c.base + CallbackPrefix + CallbackID(c.token, path)
}

// CallbackID returns the final path segment of a callback address, escaped.
func CallbackID(token Token, path string) string {
	if path == "" {
		return string(token)
	}
	return string(token) + "." + url.PathEscape(path)
}

// ParseCallbackID splits an escaped callback id into its token and
// unescaped child path. The token is everything before the first '.'.
func ParseCallbackID(id string) (Token, string, error) {
	token, rawPath, hasPath := strings.Cut(id, ".")
	if token == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCallbackID, id)
	}
	if !hasPath {
		return Token(token), "", nil
	}
	if rawPath == "" {
		return "", "", fmt.Errorf("%w: empty path in %q", ErrInvalidCallbackID, id)
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCallbackID, err)
	}
	return Token(token), path, nil
}
