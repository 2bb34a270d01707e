package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mageframe/video-kit/internal/model"
)

// Registry holds the registered backends keyed by model tag.
type Registry struct {
	mu       sync.RWMutex
	backends map[model.Backend]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[model.Backend]Backend),
	}
}

// Register adds a backend under the given tag, replacing any previous one.
func (r *Registry) Register(tag model.Backend, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[tag] = b
}

// Resolve returns the backend registered for tag.
func (r *Registry) Resolve(tag model.Backend) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[tag]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", tag)
	}
	return b, nil
}

// List returns the capabilities of all registered backends, named by the tag
// they were registered under and sorted by it.
func (r *Registry) List() []Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capabilities, 0, len(r.backends))
	for tag, b := range r.backends {
		c := b.Capabilities()
		c.Name = tag
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool {
		return caps[i].Name < caps[j].Name
	})
	return caps
}
