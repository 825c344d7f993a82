package performer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
)

// Router dispatches each task to the performer registered for its role.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]executor.Performer
	fallback executor.Performer
}

var _ executor.Performer = (*Router)(nil)

// NewRouter creates a router. fallback handles roles without a route and
// may be nil, in which case such tasks fail.
func NewRouter(fallback executor.Performer) *Router {
	return &Router{routes: make(map[string]executor.Performer), fallback: fallback}
}

// Handle registers p for role, replacing any previous registration.
func (r *Router) Handle(role string, p executor.Performer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[role] = p
}

// HandleFunc registers fn for role.
func (r *Router) HandleFunc(role string, fn executor.PerformerFunc) {
	r.Handle(role, fn)
}

// Perform forwards the task to the performer for its role.
func (r *Router) Perform(ctx context.Context, task plan.Task, shared sharedctx.Store) (executor.Result, error) {
	r.mu.RLock()
	p, ok := r.routes[task.Role]
	if !ok {
		p = r.fallback
	}
	r.mu.RUnlock()

	if p == nil {
		return executor.Result{
			Status:  executor.ResultFailure,
			Message: fmt.Sprintf("no performer for role %q", task.Role),
		}, nil
	}
	return p.Perform(ctx, task, shared)
}
