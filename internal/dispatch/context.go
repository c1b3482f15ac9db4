package dispatch

import (
	"fmt"
	"sync"

	"github.com/herald-dispatch/herald/internal/render"
)

// ContextBuilder materialises the render context for a notification from the
// kwargs stored on the row at creation time.
type ContextBuilder func(kwargs map[string]any) (render.Context, error)

// ContextRegistry maps context names to their builders.
type ContextRegistry struct {
	mu       sync.RWMutex
	builders map[string]ContextBuilder
}

// NewContextRegistry constructs an empty context registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{builders: make(map[string]ContextBuilder)}
}

// Register installs a builder under the given name, replacing any previous one.
func (r *ContextRegistry) Register(name string, builder ContextBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build runs the named builder over the stored kwargs. An empty name returns
// an empty context; an unknown name is an error.
func (r *ContextRegistry) Build(name string, kwargs map[string]any) (render.Context, error) {
	if name == "" {
		return render.Context{}, nil
	}

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatch: no context builder registered for %q", name)
	}

	context, err := builder(kwargs)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build context %q: %w", name, err)
	}
	return context, nil
}
