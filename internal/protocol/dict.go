package protocol

import (
	"fmt"
	"sort"
)

// RouteDict is the bidirectional route/code table negotiated at handshake.
// It is immutable once built. A nil *RouteDict is a valid empty dictionary,
// which means route compression is unavailable.
type RouteDict struct {
	codes  map[string]uint16
	routes map[uint16]string
}

// NewRouteDict builds a dictionary from route→code pairs. Two routes sharing
// one code is an error. An empty map yields nil.
func NewRouteDict(m map[string]uint16) (*RouteDict, error) {
	if len(m) == 0 {
		return nil, nil
	}

	d := &RouteDict{
		codes:  make(map[string]uint16, len(m)),
		routes: make(map[uint16]string, len(m)),
	}
	for route, code := range m {
		if other, dup := d.routes[code]; dup {
			return nil, fmt.Errorf("route code %d assigned to both %q and %q", code, other, route)
		}
		d.codes[route] = code
		d.routes[code] = route
	}
	return d, nil
}

// Code returns the code assigned to route.
func (d *RouteDict) Code(route string) (uint16, bool) {
	if d == nil {
		return 0, false
	}
	code, ok := d.codes[route]
	return code, ok
}

// Route returns the route assigned to code.
func (d *RouteDict) Route(code uint16) (string, bool) {
	if d == nil {
		return "", false
	}
	route, ok := d.routes[code]
	return route, ok
}

// Len returns the number of entries.
func (d *RouteDict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.codes)
}

// Map returns a copy of the route→code table, empty for a nil dictionary.
func (d *RouteDict) Map() map[string]uint16 {
	out := make(map[string]uint16, d.Len())
	if d == nil {
		return out
	}
	for route, code := range d.codes {
		out[route] = code
	}
	return out
}

// Routes returns all routes sorted alphabetically.
func (d *RouteDict) Routes() []string {
	if d == nil {
		return nil
	}
	routes := make([]string, 0, len(d.codes))
	for route := range d.codes {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// Compress fills in RouteCode and sets CompressRoute when m.Route is known.
func (d *RouteDict) Compress(m *Message) {
	if !m.Type.HasRoute() || m.CompressRoute {
		return
	}
	if code, ok := d.Code(m.Route); ok {
		m.CompressRoute = true
		m.RouteCode = code
	}
}

// Expand resolves RouteCode into Route for a compressed message. It reports
// false when the code is not in the dictionary.
func (d *RouteDict) Expand(m *Message) bool {
	if !m.Type.HasRoute() || !m.CompressRoute {
		return true
	}
	route, ok := d.Route(m.RouteCode)
	if ok {
		m.Route = route
	}
	return ok
}
