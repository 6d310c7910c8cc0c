package dispatch

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
)

var _ http.RoundTripper = (*Transport)(nil)

// Transport sends requests that carry an ordered header list over HTTP/1.1
// with the list written verbatim: names keep their casing and list order is
// wire order. req.Header is ignored for such requests. Requests without a
// list go through Base.
type Transport struct {
	Base            http.RoundTripper
	Dialer          *net.Dialer
	TLSClientConfig *tls.Config
}

// NewTransport returns a Transport over http.DefaultTransport.
func NewTransport() *Transport {
	return &Transport{
		Base:   http.DefaultTransport,
		Dialer: &net.Dialer{Timeout: 5 * time.Second, KeepAlive: -1},
	}
}

type headerOrderKey struct{}

// WithHeaderOrder attaches the header list Transport writes for requests
// made with ctx.
func WithHeaderOrder(ctx context.Context, headers []descriptor.Header) context.Context {
	return context.WithValue(ctx, headerOrderKey{}, headers)
}

func headerOrder(ctx context.Context) ([]descriptor.Header, bool) {
	headers, ok := ctx.Value(headerOrderKey{}).([]descriptor.Header)
	return headers, ok
}

// Written by Transport itself.
var framingHeaders = []string{"Host", "Content-Length", "Transfer-Encoding", "Connection"}

func isFraming(name string) bool {
	for _, f := range framingHeaders {
		if strings.EqualFold(name, f) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper. Each ordered request uses its own
// connection, closed with the response body.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	headers, ok := headerOrder(req.Context())
	if !ok {
		return t.base().RoundTrip(req)
	}

	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return nil, fmt.Errorf("invalid header name %q", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return nil, fmt.Errorf("invalid value for header %q", h.Name)
		}
	}

	ctx := req.Context()
	conn, err := t.dial(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	fail := func(err error) (*http.Response, error) {
		stop()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if err := writeRequest(conn, req, headers, body); err != nil {
		return fail(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fail(err)
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) dialer() *net.Dialer {
	if t.Dialer != nil {
		return t.Dialer
	}
	return &net.Dialer{}
}

func (t *Transport) dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	port := u.Port()
	switch {
	case port != "":
	case u.Scheme == "https":
		port = "443"
	default:
		port = "80"
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	switch u.Scheme {
	case "http":
		return t.dialer().DialContext(ctx, "tcp", addr)
	case "https":
		cfg := &tls.Config{}
		if t.TLSClientConfig != nil {
			cfg = t.TLSClientConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		d := &tls.Dialer{NetDialer: t.dialer(), Config: cfg}
		return d.DialContext(ctx, "tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return body, nil
}

func writeRequest(w io.Writer, req *http.Request, headers []descriptor.Header, body []byte) error {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\nHost: %s\r\n", req.Method, req.URL.RequestURI(), host)
	for _, h := range headers {
		if isFraming(h.Name) {
			continue
		}
		fmt.Fprintf(bw, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(bw, "Content-Length: %d\r\nConnection: close\r\n\r\n", len(body))
	if _, err := bw.Write(body); err != nil {
		return err
	}
	return bw.Flush()
}

// connBody releases the connection once the response body is closed.
type connBody struct {
	io.ReadCloser
	conn net.Conn
	stop func() bool
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	b.stop()
	_ = b.conn.Close()
	return err
}
