package orchestrator

import (
	"slices"
	"sync"
)

// Registry holds named orchestrators. Putting a name that is already
// taken closes the previous instance.
type Registry struct {
	mu sync.Mutex
	m  map[string]*Orchestrator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Orchestrator)}
}

// Put stores o under name and reports whether it replaced another
// instance.
func (r *Registry) Put(name string, o *Orchestrator) bool {
	r.mu.Lock()
	prev := r.m[name]
	r.m[name] = o
	r.mu.Unlock()
	if prev != nil && prev != o {
		prev.Close()
		return true
	}
	return false
}

// Get returns the orchestrator registered under name.
func (r *Registry) Get(name string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.m[name]
	return o, ok
}

// Remove closes and forgets the orchestrator under name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	o, ok := r.m[name]
	delete(r.m, name)
	r.mu.Unlock()
	if ok {
		o.Close()
	}
	return ok
}

// Names lists registered names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Close closes every registered orchestrator.
func (r *Registry) Close() error {
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.m))
	for _, o := range r.m {
		all = append(all, o)
	}
	r.m = make(map[string]*Orchestrator)
	r.mu.Unlock()
	for _, o := range all {
		o.Close()
	}
	return nil
}

// forget drops name if it still maps to o.
func (r *Registry) forget(name string, o *Orchestrator) {
	r.mu.Lock()
	if r.m[name] == o {
		delete(r.m, name)
	}
	r.mu.Unlock()
}
