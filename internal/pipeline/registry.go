package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry holds registered pipeline declarations by name.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Declaration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Declaration)}
}

// Register adds or replaces a declaration.
func (r *Registry) Register(decl *Declaration) error {
	if err := decl.CheckStructure(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[decl.Name] = decl
	return nil
}

// Get returns the declaration for a pipeline name.
func (r *Registry) Get(name string) (*Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decl, ok := r.pipelines[name]
	return decl, ok
}

// List returns all registered pipeline names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir registers every .yaml/.yml declaration found in dir.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read pipeline dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		decl, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		if err := r.Register(decl); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
