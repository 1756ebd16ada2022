package plugin

import (
	"errors"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/dshills/plughost/api"
)

// Registry holds the registered plugin handles, keyed by name.
// At most one handle exists per name; the first registration wins.
//
// Registry is safe for concurrent use. It never takes the manager's
// transition lock.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string

	// Opaque pane values attached by the rendering collaborator.
	panes cmap.ConcurrentMap[string, any]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
		panes:   cmap.New[any](),
	}
}

// Add registers h. It returns false, leaving the registry unchanged, when a
// handle with the same name already exists or h has no name.
func (r *Registry) Add(h *Handle) bool {
	if h == nil || h.Name() == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.Name()]; exists {
		return false
	}
	r.handles[h.Name()] = h
	r.order = append(r.order, h.Name())
	return true
}

// Remove deletes the handle and its pane mapping.
func (r *Registry) Remove(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, exists := r.handles[name]
	if exists {
		delete(r.handles, name)
		r.removeFromOrder(name)
		r.panes.Remove(name)
	}
	return h, exists
}

// Close empties the registry and closes every plugin that implements
// io.Closer, latest registration first.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		handles = append(handles, r.handles[r.order[i]])
		r.panes.Remove(r.order[i])
	}
	r.handles = make(map[string]*Handle)
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.closeContract(); err != nil {
			errs = append(errs, fmt.Errorf("close plugin %q: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// removeFromOrder removes a name from the insertion order.
// Must be called with mu held.
func (r *Registry) removeFromOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Get returns the handle registered under name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handles[name]
	if !exists {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return h, nil
}

// Exists reports whether a plugin named name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handles[name]
	return exists
}

// Find returns the first handle, in registration order, matching pred.
func (r *Registry) Find(pred func(*Handle) bool) (*Handle, error) {
	for _, h := range r.All() {
		if pred(h) {
			return h, nil
		}
	}
	return nil, ErrPluginNotFound
}

// Filter returns every handle matching pred, in registration order.
func (r *Registry) Filter(pred func(*Handle) bool) []*Handle {
	all := r.All()
	result := make([]*Handle, 0, len(all))
	for _, h := range all {
		if pred(h) {
			result = append(result, h)
		}
	}
	return result
}

// All returns every registered handle in registration order.
func (r *Registry) All() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Handle, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.handles[name])
	}
	return result
}

// Loaded returns the entire registry.
func (r *Registry) Loaded() []*Handle {
	return r.All()
}

// Installed returns the installed handles.
func (r *Registry) Installed() []*Handle {
	return r.Filter((*Handle).IsInstalled)
}

// ByStage returns the handles participating in stage.
func (r *Registry) ByStage(stage api.LoadStage) []*Handle {
	return r.Filter(func(h *Handle) bool { return h.HasStage(stage) })
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// AttachPane records the pane built for a plugin. The first attach wins.
func (r *Registry) AttachPane(name string, pane any) error {
	// The write lock keeps Remove from interleaving between the check and
	// the attach.
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[name]; !exists {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	r.panes.SetIfAbsent(name, pane)
	return nil
}

// Pane returns the pane attached for name.
func (r *Registry) Pane(name string) (any, bool) {
	return r.panes.Get(name)
}
