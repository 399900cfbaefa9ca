package cdr

import (
	"fmt"
	"sync"

	"github.com/sebac/pbxcore/internal/metrics"
)

// Backend receives a posted batch: the head of a BatchNext-linked list
// of Records, each itself possibly the head of a Next-linked list of
// forked/transferred legs. A back-end that only cares about individual
// records walks both links; one that cares about batching as a unit
// (a bulk SQL insert, say) can do its own walk over BatchNext.
type Backend interface {
	Name() string
	Post(batch *Record) error
}

// BackendFunc adapts a plain function to Backend for back-ends with no
// state worth a named type.
type BackendFunc struct {
	BackendName string
	Func        func(batch *Record) error
}

func (f BackendFunc) Name() string { return f.BackendName }

func (f BackendFunc) Post(batch *Record) error { return f.Func(batch) }

// Registry is the process-wide set of CDR back-ends, fanned out to on
// every batch post. Modeled on the same register/unregister-by-name
// and continue-on-individual-failure discipline as a pub/sub fan-out
// publisher: one back-end's error never blocks the others.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

// NewRegistry returns an empty back-end registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds be to the registry, replacing any existing back-end of
// the same name.
func (r *Registry) Register(be Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[be.Name()]; !exists {
		r.order = append(r.order, be.Name())
	}
	r.backends[be.Name()] = be
}

// Unregister removes the named back-end.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return
	}
	delete(r.backends, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Post marks every record reachable from batch (via BatchNext and each
// leg's Next chain) as posted, then hands the batch head to every
// registered back-end in registration order. A back-end's error is
// collected and reported but never stops the remaining back-ends from
// running, matching post_cdr's iterate-the-whole-registry behavior.
func (r *Registry) Post(batch *Record) error {
	markBatchPosted(batch)
	metrics.CDRBatchesPostedTotal.Inc()
	for set := batch; set != nil; set = set.BatchNext {
		for cdr := set; cdr != nil; cdr = cdr.Next {
			metrics.CDRRecordsPostedTotal.Inc()
		}
	}

	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	backends := make(map[string]Backend, len(r.backends))
	for n, be := range r.backends {
		backends[n] = be
	}
	r.mu.RUnlock()

	var firstErr error
	for _, name := range names {
		be := backends[name]
		if err := be.Post(batch); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("cdr backend %q: %w", name, err)
			}
		}
	}
	return firstErr
}

func markBatchPosted(batch *Record) {
	for set := batch; set != nil; set = set.BatchNext {
		for cdr := set; cdr != nil; cdr = cdr.Next {
			cdr.markPosted()
		}
	}
}
