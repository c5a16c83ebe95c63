package session

import (
	"sort"
	"sync"
)

// HandlerFunc serves one routed message. For a Request the return value is
// marshalled as the Response body; for a Notify it is ignored. Handlers get
// the raw JSON body and decide for themselves how to treat malformed input.
type HandlerFunc func(s *Session, body []byte) any

// Router maps routes to handlers. It is safe for concurrent use and may be
// shared by every session of a server.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for route, replacing any previous handler.
func (r *Router) Handle(route string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[route] = fn
}

// Lookup returns the handler for route.
func (r *Router) Lookup(route string) (HandlerFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[route]
	return fn, ok
}

// Routes returns the registered routes in order.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make([]string, 0, len(r.handlers))
	for route := range r.handlers {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// NotFound is the Response body for a request to an unknown route.
func NotFound(route string) map[string]any {
	return map[string]any{
		"code": 404,
		"msg":  "Route not found: " + route,
	}
}
