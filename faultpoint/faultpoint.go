// Package faultpoint provides named fault-injection triggers. Production
// code consults a trigger at a decision point; tests force it to steer the
// code down an otherwise hard-to-reach branch.
package faultpoint

import "sync"

// Set is an independent collection of triggers, typically one per
// filesystem instance. A nil *Set is valid and never forces anything.
type Set struct {
	mu     sync.RWMutex
	forced map[string]bool
}

// NewSet creates an empty trigger set.
func NewSet() *Set {
	return &Set{forced: make(map[string]bool)}
}

// Force arms the named trigger.
func (s *Set) Force(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[name] = true
}

// Clear disarms the named trigger.
func (s *Set) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forced, name)
}

// IsForced reports whether the named trigger is armed.
func (s *Set) IsForced(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forced[name]
}
