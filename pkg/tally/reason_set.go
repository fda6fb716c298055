package tally

import (
	"slices"
	"sync"
)

// ReasonSet is a set of reason tokens that reports empty/non-empty edges.
//
// Listeners are called synchronously with true when the set becomes
// non-empty and false when it becomes empty. Adds to a non-empty set and
// removes that leave the set non-empty are silent.
type ReasonSet struct {
	mu        sync.Mutex
	reasons   map[string]struct{}
	listeners map[uint64]func(nonEmpty bool)
	nextID    uint64
}

// NewReasonSet creates an empty set.
func NewReasonSet() *ReasonSet {
	return &ReasonSet{
		reasons:   make(map[string]struct{}),
		listeners: make(map[uint64]func(bool)),
	}
}

// Add inserts reason. It returns false if the reason was already present.
func (s *ReasonSet) Add(reason string) bool {
	s.mu.Lock()
	if _, ok := s.reasons[reason]; ok {
		s.mu.Unlock()
		return false
	}
	s.reasons[reason] = struct{}{}
	edge := len(s.reasons) == 1
	fns := s.listenersLocked(edge)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(true)
	}
	return true
}

// Remove deletes reason. It returns false if the reason was not present.
func (s *ReasonSet) Remove(reason string) bool {
	s.mu.Lock()
	if _, ok := s.reasons[reason]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.reasons, reason)
	edge := len(s.reasons) == 0
	fns := s.listenersLocked(edge)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(false)
	}
	return true
}

// Set adds reason when present is true and removes it otherwise.
func (s *ReasonSet) Set(reason string, present bool) bool {
	if present {
		return s.Add(reason)
	}
	return s.Remove(reason)
}

// Has reports whether reason is in the set.
func (s *ReasonSet) Has(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reasons[reason]
	return ok
}

// IsEmpty reports whether the set has no reasons.
func (s *ReasonSet) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons) == 0
}

// Len returns the number of reasons.
func (s *ReasonSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

// Reasons returns the reasons in sorted order.
func (s *ReasonSet) Reasons() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.reasons))
	for r := range s.reasons {
		out = append(out, r)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// Subscribe registers fn for emptiness edges.
func (s *ReasonSet) Subscribe(fn func(nonEmpty bool)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *ReasonSet) listenersLocked(edge bool) []func(bool) {
	if !edge || len(s.listeners) == 0 {
		return nil
	}
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
