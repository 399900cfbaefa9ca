// Package vars implements the variable store and the ${...}/$[...]
// substitution engine: per-owner name to value resolution with a
// fixed synthetic layer checked before a channel's own store, and a
// small recursive-descent substitution/expression evaluator driven by
// a dynbuf accumulator.
package vars

import (
	"sync"

	"github.com/sebac/pbxcore/internal/object"
)

// Variable is an immutable (name, value, hash) triple. Reassignment
// replaces the Variable in the store rather than mutating it in place.
type Variable struct {
	Name  string
	Value string
	Hash  uint64
}

// Store is a Registry<Variable> for one owner (the process-global
// store, or a single channel's store). Set/Unset serialise on a
// handle map so a reassignment first drops the previous entry's
// strong reference before adding the new one.
type Store struct {
	reg *object.Registry[*Variable]

	mu      sync.Mutex
	handles map[string]object.Handle
}

// NewStore creates an empty, named variable store.
func NewStore(name string) *Store {
	return &Store{
		reg:     object.NewRegistry[*Variable](name),
		handles: make(map[string]object.Handle),
	}
}

// Set creates (or replaces) the variable name with value. A nil-like
// Set is Unset: callers wanting "set to nil" should call Unset
// directly, mirroring set_global(N, nil) in the round-trip law.
func (s *Store) Set(name, value string) {
	h := object.Hash(name)
	ref := object.New(&Variable{Name: name, Value: value, Hash: h}, nil, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.handles[name]; ok {
		s.reg.Del(old)
	}
	s.handles[name] = s.reg.Add(h, name, ref)
}

// Unset removes the variable, if present.
func (s *Store) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[name]; ok {
		s.reg.Del(h)
		delete(s.handles, name)
	}
}

// Get returns the variable's value, or ok=false if unset.
func (s *Store) Get(name string) (string, bool) {
	ref, ok := s.reg.Find(true, object.Hash(name), name)
	if !ok {
		return "", false
	}
	defer ref.Put()
	return ref.Get().Value, true
}

// IterateOrdered visits every (name, value) pair in stable name order,
// backing `serialize_variables`.
func (s *Store) IterateOrdered(fn func(name, value string) bool) {
	s.reg.IterateOrdered(func(key string, obj *object.Ref[*Variable]) bool {
		return fn(key, obj.Get().Value)
	})
}

// Len returns the number of variables currently set.
func (s *Store) Len() int { return s.reg.Len() }
