package rpc

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry is the name -> Binding map of spec §3's Procedure Registry.
// Bindings are immutable after the owning endpoint starts; Lookup after
// that point needs no synchronization, but Bind itself stays guarded so
// that late, accidental binding from a running endpoint fails loudly
// rather than racing.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Binding
	frozen  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Binding)}
}

// Bind registers name -> fn. Returns an error if the registry has been
// frozen by Freeze (called once the owning endpoint starts).
func (r *Registry) Bind(name string, fn interface{}) error {
	b, err := Bind(name, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.Errorf("rpc: Bind(%q) after endpoint start", name)
	}
	r.entries[name] = b
	return nil
}

// Freeze marks the registry read-only, per spec §3 ("bindings occur
// before endpoint start or under the endpoint's serializer").
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the binding for name, if any.
func (r *Registry) Lookup(name string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.entries[name]
	return b, ok
}
