// Package object implements the refcounted-object and registry
// primitives the rest of the core is built on: every shared datum
// (variables, channels, CDRs, modules) carries one of these headers.
package object

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Releaser is invoked exactly once when a Ref's count drops to zero.
type Releaser func()

// Ref is the refcounted header embedded (logically) alongside a
// payload. The zero value is not usable; construct with New.
type Ref[T any] struct {
	count   atomic.Int32
	payload T
	release Releaser
	// module, if non-nil, is bumped while this object is alive so a
	// module cannot be unmapped while any object it exported is
	// referenced. It is a weak back-reference: the module never holds
	// a strong reference to objects it exports, only a use-count.
	module UseCounter
}

// UseCounter is the subset of loader.Module the object package needs,
// kept narrow here to avoid an import cycle with internal/loader.
type UseCounter interface {
	BumpUse(delta int32)
}

// New constructs a Ref with an initial count of 1 and an optional
// owning module. release runs exactly once, when the count reaches
// zero; it may be nil.
func New[T any](payload T, release Releaser, owner UseCounter) *Ref[T] {
	r := &Ref[T]{payload: payload, release: release, module: owner}
	r.count.Store(1)
	if owner != nil {
		owner.BumpUse(1)
	}
	return r
}

// Get returns the payload. Callers must hold a reference (via New or
// Dup) for the duration of use.
func (r *Ref[T]) Get() T { return r.payload }

// Dup increments the refcount and returns r, so call sites can chain
// `keep := obj.Dup()`. Panics if called on an object whose count has
// already reached zero — increments from zero are forbidden because a
// concurrent Put may have already run the release callback.
func (r *Ref[T]) Dup() *Ref[T] {
	for {
		n := r.count.Load()
		if n <= 0 {
			panic("object: Dup on a released reference")
		}
		if r.count.CompareAndSwap(n, n+1) {
			return r
		}
	}
}

// Put decrements the refcount, running the release callback exactly
// once if it reaches zero.
func (r *Ref[T]) Put() {
	n := r.count.Add(-1)
	if n < 0 {
		panic("object: refcount went negative")
	}
	if n == 0 {
		if r.release != nil {
			r.release()
		}
		if r.module != nil {
			r.module.BumpUse(-1)
		}
	}
}

// Refs observes the current refcount, for diagnostics only.
func (r *Ref[T]) Refs() int32 { return r.count.Load() }

// tryBump increments the refcount only if it is currently > 0,
// implementing the CAS-from-nonzero rule registries need for find().
func tryBump[T any](r *Ref[T]) bool {
	for {
		n := r.count.Load()
		if n <= 0 {
			return false
		}
		if r.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// entry is one bucket slot: a key, a hash, and the strong reference
// the registry itself holds.
type entry[T any] struct {
	hash uint64
	key  string
	obj  *Ref[T]
}

// Handle is the opaque token returned by Add, used by Del.
type Handle struct {
	hash uint64
	key  string
}

// Registry is a hashed, ordered, ref-counted container. Its own
// strong reference to each entry is the "registry entry implies at
// least one strong reference outside the registry" invariant.
type Registry[T any] struct {
	Name string

	mu      sync.RWMutex
	buckets map[uint64][]*entry[T]
	order   []*entry[T] // insertion order, for stable ordered iteration
}

// NewRegistry creates an empty, named registry.
func NewRegistry[T any](name string) *Registry[T] {
	return &Registry[T]{Name: name, buckets: make(map[uint64][]*entry[T])}
}

// Add stores a strong reference under (hash, key) and returns a handle
// used to remove it later. The registry does not take a fresh Dup —
// callers transfer the reference they already hold, matching the
// source's "registering replaces any older module... the old module's
// registry entry removed" contract for Add+Del pairs.
func (r *Registry[T]) Add(hash uint64, key string, obj *Ref[T]) Handle {
	e := &entry[T]{hash: hash, key: key, obj: obj}
	r.mu.Lock()
	r.buckets[hash] = append(r.buckets[hash], e)
	r.order = append(r.order, e)
	r.mu.Unlock()
	return Handle{hash: hash, key: key}
}

// Del removes the entry identified by h, if present, and drops the
// registry's own reference (running the release callback if this was
// the last reference).
func (r *Registry[T]) Del(h Handle) {
	r.mu.Lock()
	var removed *entry[T]
	bucket := r.buckets[h.hash]
	for i, e := range bucket {
		if e.key == h.key {
			removed = e
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if removed != nil {
		r.buckets[h.hash] = bucket
		for i, e := range r.order {
			if e == removed {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if removed != nil {
		removed.obj.Put()
	}
}

// Find searches the bucket for hash matching key. If bump is true the
// returned object's refcount is incremented before the lock is
// released, so the caller may use it safely even if another goroutine
// concurrently removes it from the registry.
func (r *Registry[T]) Find(bump bool, hash uint64, key string) (*Ref[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.buckets[hash] {
		if e.key == key {
			if bump {
				if !tryBump(e.obj) {
					continue
				}
			}
			return e.obj, true
		}
	}
	return nil, false
}

// Iterate applies fn to every entry in insertion order; fn returning
// false stops iteration early.
func (r *Registry[T]) Iterate(fn func(key string, obj *Ref[T]) bool) {
	r.mu.RLock()
	snapshot := make([]*entry[T], len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.key, e.obj) {
			return
		}
	}
}

// IterateOrdered applies fn to every entry sorted by key, stable.
func (r *Registry[T]) IterateOrdered(fn func(key string, obj *Ref[T]) bool) {
	r.mu.RLock()
	snapshot := make([]*entry[T], len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool { return snapshot[i].key < snapshot[j].key })
	for _, e := range snapshot {
		if !fn(e.key, e.obj) {
			return
		}
	}
}

// Len returns the number of entries currently registered.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Hash is the canonical string hash used across all registries (FNV-1a,
// 64-bit) so the dialplan's synthetic-variable fast path and the
// module/context/variable registries all agree on one hash function.
func Hash(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
