package backends

import (
	"fmt"

	"github.com/forksnd/convey/internal/ports"
)

// Registry maps backend kinds to concrete adapters.
type Registry struct {
	backends map[string]ports.Backend
}

// NewRegistry creates a registry over the given backends.
// Registering two backends of the same kind is a wiring bug.
func NewRegistry(backends ...ports.Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]ports.Backend, len(backends))}
	for _, b := range backends {
		if _, dup := r.backends[b.Kind()]; dup {
			return nil, fmt.Errorf("duplicate backend kind: %s", b.Kind())
		}
		r.backends[b.Kind()] = b
	}
	return r, nil
}

// Backend resolves a backend kind.
func (r *Registry) Backend(kind string) (ports.Backend, bool) {
	b, ok := r.backends[kind]
	return b, ok
}

// Kinds returns the registered backend kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.backends))
	for kind := range r.backends {
		kinds = append(kinds, kind)
	}
	return kinds
}
