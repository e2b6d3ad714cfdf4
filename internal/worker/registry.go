package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
)

// Handler runs the business logic behind one job name.
// Returning an error marks the attempt as failed; wrap it with
// domain.NewPermanentError to skip the automatic retry.
type Handler interface {
	Execute(ctx context.Context, job domain.JobRecord) error
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, job domain.JobRecord) error

// Execute calls f(ctx, job)
func (f HandlerFunc) Execute(ctx context.Context, job domain.JobRecord) error {
	return f(ctx, job)
}

// Registry maps job names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds h to name. Empty names, nil handlers and duplicates are rejected.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Get returns the handler registered under name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Resolve is Get with a domain.ErrHandlerNotFound error for unknown names
func (r *Registry) Resolve(name string) (Handler, error) {
	h, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w for job %q", domain.ErrHandlerNotFound, name)
	}
	return h, nil
}

// Names returns the registered job names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
