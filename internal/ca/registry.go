package ca

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves vendors by name.
type Registry struct {
	mu      sync.RWMutex
	vendors map[string]Vendor
}

// NewRegistry registers vendors. It panics on duplicate names since the set
// is fixed at startup.
func NewRegistry(vendors ...Vendor) *Registry {
	r := &Registry{vendors: make(map[string]Vendor, len(vendors))}
	for _, v := range vendors {
		if err := r.Register(v); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds v under v.Name().
func (r *Registry) Register(v Vendor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	if _, ok := r.vendors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVendor, name)
	}
	r.vendors[name] = v
	return nil
}

// Get returns the vendor registered under name.
func (r *Registry) Get(name string) (Vendor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vendors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, name)
	}
	return v, nil
}

// Names returns the registered vendor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vendors))
	for name := range r.vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
