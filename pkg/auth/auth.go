// Package auth implements the token store with scope checking and the
// one-way safe mode that restricts Write operations to Admin.
package auth

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/neira-project/neira/pkg/config"
)

// Scope is a permission level attached to a token.
type Scope string

// Scopes, lowest to highest. Admin implies Write implies Read for
// authorization evaluation.
const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Store maps tokens to scope sets. Scopes are set at startup; lookups
// are read-heavy.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]map[Scope]bool
	safeMode atomic.Bool
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]map[Scope]bool)}
}

// NewStoreFromConfig seeds the store with the statically configured
// admin/write/read tokens. Empty tokens are skipped.
func NewStoreFromConfig(cfg config.TokenConfig) *Store {
	s := NewStore()
	if cfg.Admin != "" {
		s.Add(cfg.Admin, ScopeAdmin)
	}
	if cfg.Write != "" {
		s.Add(cfg.Write, ScopeWrite)
	}
	if cfg.Read != "" {
		s.Add(cfg.Read, ScopeRead)
	}
	return s
}

// Add registers a token with the given scopes, merging with any
// existing scope set.
func (s *Store) Add(token string, scopes ...Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.tokens[token]
	if !ok {
		set = make(map[Scope]bool, len(scopes))
		s.tokens[token] = set
	}
	for _, sc := range scopes {
		set[sc] = true
	}
}

// CheckAuth reports whether the token is known at all.
func (s *Store) CheckAuth(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// CheckScope reports whether the token is authorized for the scope.
// Admin passes any check. Write implies Read. In safe mode, Write
// additionally requires Admin.
func (s *Store) CheckScope(token string, scope Scope) bool {
	s.mu.RLock()
	set, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if set[ScopeAdmin] {
		return true
	}
	switch scope {
	case ScopeAdmin:
		return false
	case ScopeWrite:
		if s.safeMode.Load() {
			return false // write requires admin while quarantined
		}
		return set[ScopeWrite]
	case ScopeRead:
		return set[ScopeRead] || set[ScopeWrite]
	}
	return false
}

// EnterSafeMode switches the store into safe mode. The transition is
// one-way: safe mode persists until process restart.
func (s *Store) EnterSafeMode(reason string) {
	if s.safeMode.CompareAndSwap(false, true) {
		slog.Warn("Safe mode engaged, write scope now requires admin", "reason", reason)
	}
}

// SafeMode reports whether safe mode is engaged.
func (s *Store) SafeMode() bool {
	return s.safeMode.Load()
}
