// Package scope implements the scope-guarded callback storage described in
// the design notes: a Scope holding a shared liveness flag, and a ScopedFn
// holding a strong reference to both the flag and the callable. Invocation
// checks the flag under a reader lock; expiration happens under a writer
// lock so no call is ever in flight when the owning Scope is dropped.
package scope

import "sync"

// Scope is a lifetime token. Expire invalidates every ScopedFn created from
// it; subsequent Invoke calls become no-ops.
type Scope struct {
	mu      sync.RWMutex
	expired bool
}

// New creates a live Scope.
func New() *Scope {
	return &Scope{}
}

// Bind wraps fn in a ScopedFn tied to this Scope.
func (s *Scope) Bind(fn func()) *ScopedFn {
	return &ScopedFn{scope: s, fn: fn}
}

// Expire invalidates the scope. It blocks until any Invoke currently in
// flight completes, since both hold the scope's mutex.
func (s *Scope) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

// IsExpired reports whether Expire has been called.
func (s *Scope) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expired
}

// ScopedFn is a callable bound to a Scope. A Go closure already erases the
// underlying callable's storage, so there is no separate inline-buffer vs.
// allocator-backed representation to choose between here (see
// internal/scope/doc.go).
type ScopedFn struct {
	scope *Scope
	fn    func()
}

// Invoke calls the bound function unless the scope has expired. Returns
// whether the call happened.
func (s *ScopedFn) Invoke() bool {
	s.scope.mu.RLock()
	defer s.scope.mu.RUnlock()
	if s.scope.expired {
		return false
	}
	s.fn()
	return true
}
