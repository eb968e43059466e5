package events

import "context"

// Handler is a single destination invoked with every event.
type Handler interface {
	Handle(ctx context.Context, ev *Event) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *Event) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, ev *Event) (Response, error) {
	return f(ctx, ev)
}

// Router is a destination that selects a route for each event. A bound
// router takes precedence over a bound handler.
type Router interface {
	Dispatch(ctx context.Context, ev *Event) (Response, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, ev *Event) (Response, error)

func (f RouterFunc) Dispatch(ctx context.Context, ev *Event) (Response, error) {
	return f(ctx, ev)
}

// TypeRouter dispatches on the event type with an optional fallback.
type TypeRouter struct {
	routes   map[string]Handler
	fallback Handler
}

// NewTypeRouter returns an empty router.
func NewTypeRouter() *TypeRouter {
	return &TypeRouter{routes: make(map[string]Handler)}
}

// On routes eventType to h.
func (r *TypeRouter) On(eventType string, h Handler) *TypeRouter {
	r.routes[eventType] = h
	return r
}

// Fallback handles events without a dedicated route.
func (r *TypeRouter) Fallback(h Handler) *TypeRouter {
	r.fallback = h
	return r
}

// Dispatch runs the matching handler. Unrouted events without a fallback
// produce no response.
func (r *TypeRouter) Dispatch(ctx context.Context, ev *Event) (Response, error) {
	if h, ok := r.routes[ev.Type()]; ok {
		return h.Handle(ctx, ev)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, ev)
	}
	return nil, nil
}
