package sandbox

import (
	"context"
	"log"
	"sort"
	"sync"
)

// Registry tracks sandboxes the worker has created so they can be torn down
// on shutdown even if the run that created them crashed mid-task. It is
// owned by whoever owns the manager; there is no process-wide instance.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Sandbox
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Sandbox)}
}

// Register adds a sandbox to the active set
func (r *Registry) Register(sb *Sandbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[sb.Name] = sb
}

// Unregister drops a sandbox from the active set
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, name)
}

// Names returns the names of all registered sandboxes, sorted
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered sandboxes
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// DestroyAll tears down every registered sandbox. Failures are logged and
// the sandbox stays registered so a later sweep can retry.
func (r *Registry) DestroyAll(ctx context.Context) {
	r.mu.Lock()
	sandboxes := make([]*Sandbox, 0, len(r.active))
	for _, sb := range r.active {
		sandboxes = append(sandboxes, sb)
	}
	r.mu.Unlock()

	for _, sb := range sandboxes {
		if err := sb.Destroy(ctx); err != nil {
			log.Printf("⚠️  Failed to destroy sandbox %s during cleanup: %v", sb.Name, err)
			continue
		}
		r.Unregister(sb.Name)
	}
}
