package taskstream

import (
	"context"

	"github.com/go-json-experiment/json/jsontext"
)

// ShortTask handles one synchronous task invocation and returns the value
// serialized into the response body.
type ShortTask func(ctx context.Context, args jsontext.Value) (any, error)

// LongTask runs a streaming task, emitting interim events through tc.
// The return value becomes the success event; a returned *FatalTaskError
// becomes the fatal_error event.
type LongTask func(ctx context.Context, tc *TaskContext, args jsontext.Value) (any, error)

// TaskRequest describes one short task invocation as seen by middleware.
type TaskRequest struct {
	Name string
	Args jsontext.Value
}

// Handler is the next step in a short task middleware chain.
type Handler func(ctx context.Context, req *TaskRequest) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(next Handler) Handler

// Registry maps task names to their handlers. Registration is expected to
// finish before the server starts; it is not synchronized.
type Registry struct {
	short      map[string]ShortTask
	long       map[string]LongTask
	middleware []Middleware
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		short: make(map[string]ShortTask),
		long:  make(map[string]LongTask),
	}
}

// RegisterShort registers a synchronous task under the given name.
func (r *Registry) RegisterShort(name string, fn ShortTask) {
	r.short[name] = fn
}

// RegisterLong registers a streaming task under the given name.
func (r *Registry) RegisterLong(name string, fn LongTask) {
	r.long[name] = fn
}

// Use appends middleware applied to every short task.
// Middleware runs in registration order, outermost first.
func (r *Registry) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Short returns the named short task wrapped in the middleware chain.
func (r *Registry) Short(name string) (Handler, bool) {
	fn, ok := r.short[name]
	if !ok {
		return nil, false
	}

	handler := func(ctx context.Context, req *TaskRequest) (any, error) {
		return fn(ctx, req.Args)
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	return handler, true
}

// Long returns the named long task.
func (r *Registry) Long(name string) (LongTask, bool) {
	fn, ok := r.long[name]
	return fn, ok
}

// ShortNames returns all registered short task names.
func (r *Registry) ShortNames() []string {
	names := make([]string, 0, len(r.short))
	for name := range r.short {
		names = append(names, name)
	}
	return names
}

// LongNames returns all registered long task names.
func (r *Registry) LongNames() []string {
	names := make([]string, 0, len(r.long))
	for name := range r.long {
		names = append(names, name)
	}
	return names
}
