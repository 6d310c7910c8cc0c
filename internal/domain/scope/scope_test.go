package scope_test

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/sophialabs/traceharness/internal/domain/scope"
)

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewToken_Format(t *testing.T) {
	tok := scope.NewToken()
	if !tokenPattern.MatchString(tok.String()) {
		t.Errorf("token %q is not 32 lowercase hex digits", tok)
	}
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[scope.Token]bool)
	for range 1000 {
		tok := scope.NewToken()
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
		if strings.ContainsAny(tok.String(), "./") {
			t.Fatalf("token %s contains a separator", tok)
		}
	}
}

func TestToken_Key(t *testing.T) {
	tok := scope.Token("abc")
	if got := tok.Key(""); got != "abc" {
		t.Errorf("root key = %q", got)
	}
	if got := tok.Key(scope.JoinPath("1", "2")); got != "abc.1.2" {
		t.Errorf("nested key = %q", got)
	}
}

func TestCallbacks_Address(t *testing.T) {
	cb := scope.NewCallbacks("http://127.0.0.1:7777/", "abc")

	tests := []struct {
		path string
		want string
	}{
		{"", "http://127.0.0.1:7777/callback/abc"},
		{"1", "http://127.0.0.1:7777/callback/abc.1"},
		{"1.2", "http://127.0.0.1:7777/callback/abc.1.2"},
		{"a b/c", "http://127.0.0.1:7777/callback/abc.a%20b%2Fc"},
	}
	for _, tt := range tests {
		if got := cb.Address(tt.path); got != tt.want {
			t.Errorf("Address(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if cb.Token() != "abc" {
		t.Errorf("Token() = %q", cb.Token())
	}
}

func TestCallbacks_RoundTrip(t *testing.T) {
	tok := scope.NewToken()
	cb := scope.NewCallbacks("http://harness:7777/prefix", tok)

	for _, path := range []string{"", "1", "1.1", "x.y.z", "a b", "a/b", "100%", "ünï"} {
		addr, err := url.Parse(cb.Address(path))
		if err != nil {
			t.Fatalf("address for %q does not parse: %v", path, err)
		}
		id, ok := strings.CutPrefix(addr.EscapedPath(), "/prefix"+scope.CallbackPrefix)
		if !ok {
			t.Fatalf("address %s lacks the callback prefix", addr)
		}
		gotTok, gotPath, err := scope.ParseCallbackID(id)
		if err != nil {
			t.Fatalf("ParseCallbackID(%q): %v", id, err)
		}
		if gotTok != tok || gotPath != path {
			t.Errorf("round trip of %q gave (%s, %q)", path, gotTok, gotPath)
		}
	}
}

func TestCallbacks_DistinctPathsDistinctAddresses(t *testing.T) {
	cb := scope.NewCallbacks("http://h", "t")
	seen := make(map[string]string)
	for _, p := range []string{"", "1", "1.1", "11", "1.1.1", "2"} {
		addr := cb.Address(p)
		if prev, dup := seen[addr]; dup {
			t.Fatalf("paths %q and %q share address %s", prev, p, addr)
		}
		seen[addr] = p
	}
}

func TestParseCallbackID_Invalid(t *testing.T) {
	for _, id := range []string{"", ".1", "abc.", "abc.%zz"} {
		if _, _, err := scope.ParseCallbackID(id); !errors.Is(err, scope.ErrInvalidCallbackID) {
			t.Errorf("ParseCallbackID(%q) err = %v, want ErrInvalidCallbackID", id, err)
		}
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"0123456789abcdef0123456789abcdef", false},
		{"tok", false},
		{"", true},
		{"a.b", true},
		{"a/b", true},
		{".", true},
	}
	for _, tt := range tests {
		tok, err := scope.ParseToken(tt.in)
		if tt.wantErr {
			if !errors.Is(err, scope.ErrInvalidToken) {
				t.Errorf("ParseToken(%q) err = %v, want ErrInvalidToken", tt.in, err)
			}
			continue
		}
		if err != nil || tok.String() != tt.in {
			t.Errorf("ParseToken(%q) = %q, %v", tt.in, tok, err)
		}
	}
}

func TestParseToken_AcceptsGeneratedTokens(t *testing.T) {
	for i := 0; i < 50; i++ {
		tok := scope.NewToken()
		if _, err := scope.ParseToken(tok.String()); err != nil {
			t.Fatalf("generated token %q rejected: %v", tok, err)
		}
	}
}
