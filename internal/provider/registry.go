package provider

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrUnknownProvider is returned when a model ref names a backend that was
// never registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry indexes configured backends by id. It is filled once at startup
// and read concurrently by the failover controller afterwards.
type Registry struct {
	mu      sync.RWMutex
	backend map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{backend: map[string]Provider{}}
}

// Register adds p under its own id. Empty and repeated ids are rejected.
func (r *Registry) Register(p Provider) error {
	id := p.ID()
	if id == "" {
		return errors.New("provider id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.backend[id]; dup {
		return fmt.Errorf("provider %q registered twice", id)
	}
	r.backend[id] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.backend[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// Resolve returns the backend serving ref.
func (r *Registry) Resolve(ref ModelRef) (Provider, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("resolve %q: not a provider/model ref", ref)
	}
	return r.Get(ref.Provider())
}

// IDs lists registered ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.backend))
}
