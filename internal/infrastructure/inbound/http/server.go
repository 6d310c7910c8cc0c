package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
	"github.com/sophialabs/traceharness/internal/domain/trace"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
	"github.com/sophialabs/traceharness/internal/infrastructure/services"
	"github.com/sophialabs/traceharness/internal/infrastructure/usecases"
)

const maxBodySize = 10 << 20 // 10 MB

// Server is the executor's HTTP surface: the test and callback endpoints the
// runner and the service under test talk to, plus a small admin API.
type Server struct {
	router     *chi.Mux
	cases      atomic.Pointer[services.CaseIndex]
	submitUC   *usecases.SubmitTestUseCase
	callbackUC *usecases.RecordCallbackUseCase
	scopes     *services.ScopeStore
	traceBuf   *trace.RingBuffer
	logger     ports.Logger
	publicBase string
}

// NewServer creates a new Server. publicBase, when set, is used to build the
// URL recorded for every inbound exchange; otherwise it is taken from the
// request's Host.
func NewServer(
	submitUC *usecases.SubmitTestUseCase,
	callbackUC *usecases.RecordCallbackUseCase,
	scopes *services.ScopeStore,
	traceBuf *trace.RingBuffer,
	logger ports.Logger,
	publicBase string,
) *Server {
	s := &Server{
		submitUC:   submitUC,
		callbackUC: callbackUC,
		scopes:     scopes,
		traceBuf:   traceBuf,
		logger:     logger,
		publicBase: strings.TrimSuffix(publicBase, "/"),
	}
	s.router = s.buildRouter()
	return s
}

// SetCases publishes the loaded case index on the admin API. Safe to call
// while serving.
func (s *Server) SetCases(idx *services.CaseIndex) {
	s.cases.Store(idx)
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/test/{scopeID}", s.handleTest)
	r.Post(scope.CallbackPrefix+"{callbackID}", s.handleCallback)

	r.Route("/__admin", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/trace", s.handleGetTrace)
		r.Get("/scopes", s.handleScopes)
		r.Get("/cases", s.handleListCases)
	})

	r.NotFound(s.notFoundHandler)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("request received (no route)", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	writeError(w, http.StatusNotFound, "no_route", "no endpoint at "+r.URL.Path)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	token, err := scope.ParseToken(chi.URLParam(r, "scopeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scope", err.Error())
		return
	}
	ex, err := s.readExchange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	results, err := s.submitUC.Execute(r.Context(), token, ex)
	if err != nil {
		if errors.Is(err, services.ErrScopeOpen) {
			writeError(w, http.StatusConflict, "scope_conflict", err.Error())
			return
		}
		s.logger.Error("test exchange failed", "scope", token, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, results)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Escaped on purpose: ParseCallbackID does the unescaping.
	callbackID := strings.TrimPrefix(r.URL.EscapedPath(), scope.CallbackPrefix)
	ex, err := s.readExchange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	err = s.callbackUC.Execute(r.Context(), callbackID, ex)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, nil)
	case errors.Is(err, scope.ErrInvalidCallbackID):
		writeError(w, http.StatusBadRequest, "invalid_callback", err.Error())
	case errors.Is(err, services.ErrUnknownScope):
		writeError(w, http.StatusNotFound, "unknown_scope", err.Error())
	case errors.Is(err, usecases.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		s.logger.Error("callback failed", "id", callbackID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// readExchange decodes the body as a descriptor list; an empty body is an
// empty list.
func (s *Server) readExchange(r *http.Request) (usecases.Exchange, error) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return usecases.Exchange{}, errors.New("failed to read request body")
	}

	var tree []descriptor.Descriptor
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &tree); err != nil {
			return usecases.Exchange{}, errors.New("body must be a JSON array of descriptors: " + err.Error())
		}
	}

	return usecases.Exchange{
		URL:     s.requestURL(r),
		Headers: captureHeaders(r.Header),
		Tree:    tree,
	}, nil
}

func (s *Server) requestURL(r *http.Request) string {
	if s.publicBase != "" {
		return s.publicBase + r.URL.RequestURI()
	}
	return "http://" + r.Host + r.URL.RequestURI()
}

// captureHeaders flattens h into one pair per value, sorted by name. Values of
// a repeated header keep their order.
func captureHeaders(h http.Header) []descriptor.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]descriptor.Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, descriptor.H(name, v))
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	n := 10
	if lastParam := r.URL.Query().Get("last"); lastParam != "" {
		if parsed, err := strconv.Atoi(lastParam); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var entries []trace.Entry
	if token := r.URL.Query().Get("scope"); token != "" {
		entries = s.traceBuf.LastForScope(n, token)
	} else {
		entries = s.traceBuf.Last(n)
	}
	if entries == nil {
		entries = []trace.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entries)
}

func (s *Server) handleScopes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{"open": s.scopes.Len()})
}

func (s *Server) handleListCases(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	idx := s.cases.Load()
	if idx == nil {
		writeJSON(w, []any{})
		return
	}

	all := idx.All()
	cases := make([]map[string]string, 0, len(all))
	for _, c := range all {
		cases = append(cases, map[string]string{
			"id":          c.ID,
			"name":        c.Name,
			"description": c.Description,
		})
	}
	writeJSON(w, cases)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{
		"error":   code,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
