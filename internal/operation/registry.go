package operation

import (
	"context"
	"strings"
	"sync"

	"github.com/rvald/twinctl/internal/command"
)

// Handler executes one command and reports its outcome.
type Handler func(ctx context.Context, cmd command.Command) command.Result

// Registry maps operation names to handlers.
type Registry struct {
	handlers map[string]Handler
	order    []string
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name. The last registration wins;
// the name keeps its original position in List.
func (r *Registry) Register(name string, h Handler) {
	key := normalize(name)
	if key == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; !exists {
		r.order = append(r.order, key)
	}
	r.handlers[key] = h
}

// Resolve returns the handler for name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[normalize(name)]
	return h, ok
}

// List returns the registered names in first-registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
