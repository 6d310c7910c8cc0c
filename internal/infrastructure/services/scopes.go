package services

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sophialabs/traceharness/internal/domain/capture"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

var (
	// ErrScopeOpen means a test for the token is already in progress.
	ErrScopeOpen = errors.New("scope already open")
	// ErrUnknownScope means no test for the token is in progress.
	ErrUnknownScope = errors.New("unknown scope")
)

// ScopeStore collects captured nodes per open scope. A scope is open from
// the start of its test exchange until the executor answers it.
type ScopeStore struct {
	mu     sync.Mutex
	scopes map[scope.Token]capture.ResultMap
}

// NewScopeStore creates an empty store.
func NewScopeStore() *ScopeStore {
	return &ScopeStore{scopes: make(map[scope.Token]capture.ResultMap)}
}

// Open starts collecting for token.
func (s *ScopeStore) Open(token scope.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[token]; ok {
		return fmt.Errorf("%w: %s", ErrScopeOpen, token)
	}
	s.scopes[token] = make(capture.ResultMap)
	return nil
}

// Record stores node under key in token's scope, replacing any earlier node
// with the same key; replaced reports whether that happened.
func (s *ScopeStore) Record(token scope.Token, key string, node capture.CapturedNode) (replaced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, ok := s.scopes[token]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, token)
	}
	_, replaced = results[key]
	results[key] = node
	return replaced, nil
}

// IsOpen reports whether token's scope is collecting.
func (s *ScopeStore) IsOpen(token scope.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scopes[token]
	return ok
}

// Close stops collecting for token and returns what was recorded. Callbacks
// arriving afterwards see ErrUnknownScope.
func (s *ScopeStore) Close(token scope.Token) (capture.ResultMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, ok := s.scopes[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, token)
	}
	delete(s.scopes, token)
	return results, nil
}

// Len returns the number of open scopes.
func (s *ScopeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}
