package actions

import (
	"sort"
	"sync"

	"github.com/rendis/playbook/pkg/schema"
)

// Registry is the concrete thread-safe HandlerRegistry implementation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry. Returns error on duplicate name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	name := h.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler %q already registered", name)
	}

	r.handlers[name] = h
	return nil
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "handler %q not registered", name)
	}
	return h, nil
}

// List returns info for all registered handlers, sorted by name.
func (r *Registry) List() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		s := h.Schema()
		infos = append(infos, HandlerInfo{
			Name:        h.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if a handler is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
