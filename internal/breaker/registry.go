package breaker

import (
	"sort"
	"sync"
)

// Registry owns one Breaker per provider-connection key. Breakers are created
// lazily with the registry's settings. Tests construct their own registry so
// breaker state never leaks between them.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry.
func NewRegistry(s Settings) *Registry {
	return &Registry{settings: s, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it closed if absent.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(key, r.settings)
	r.breakers[key] = b
	return b
}

// Reset closes the breaker for key. It reports false when no breaker exists.
func (r *Registry) Reset(key string) bool {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()
	for _, b := range all {
		b.Reset()
	}
}

// Snapshots lists every breaker ordered by key.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, b := range all {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
