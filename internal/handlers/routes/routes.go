// Package routes keeps the table of HTTP routes with their access tags.
package routes

import (
	"fmt"
	"net/http"
	"strings"
)

// Route with access tag
//
// Public routes skip authentication completely.
// SkipPermission routes need valid access token but no permission for the route.
// Any other route needs valid token and permission for (Method, Template(Pattern)).
type Route struct {
	Method         string
	Pattern        string // chi pattern like '/api/v1/users/{id}'
	Handler        http.Handler
	Public         bool
	SkipPermission bool
}

// Template of the route as permissions refer to it
func (r Route) Template() string {
	return Template(r.Pattern)
}

type key struct {
	method  string
	pattern string
}

// Registry is immutable table of routes built once on startup
type Registry struct {
	routes []Route
	index  map[key]Route
}

func NewRegistry(routes ...Route) (*Registry, error) {
	reg := &Registry{
		routes: make([]Route, 0, len(routes)),
		index:  make(map[key]Route, len(routes)),
	}

	for _, r := range routes {
		if r.Method == "" || r.Pattern == "" || r.Handler == nil {
			return nil, fmt.Errorf("route %s %q: method, pattern and handler are required", r.Method, r.Pattern)
		}
		if strings.Count(r.Pattern, "{") != strings.Count(r.Pattern, "}") {
			return nil, fmt.Errorf("route %s %q: unbalanced braces in pattern", r.Method, r.Pattern)
		}
		if r.Public && r.SkipPermission {
			return nil, fmt.Errorf("route %s %q: public route can't skip permission", r.Method, r.Pattern)
		}

		k := key{method: r.Method, pattern: r.Pattern}
		if _, ok := reg.index[k]; ok {
			return nil, fmt.Errorf("route %s %q is registered twice", r.Method, r.Pattern)
		}

		reg.index[k] = r
		reg.routes = append(reg.routes, r)
	}

	return reg, nil
}

// Lookup the route by method and chi pattern
func (reg *Registry) Lookup(method string, pattern string) (Route, bool) {
	r, ok := reg.index[key{method: method, pattern: pattern}]
	return r, ok
}

// Routes in registration order
func (reg *Registry) Routes() []Route {
	out := make([]Route, len(reg.routes))
	copy(out, reg.routes)
	return out
}

// Template converts chi pattern to permission form: '/users/{id}' -> '/users/:id'
// Regexp part of the param is dropped, braces inside it included: '/users/{id:[0-9]{3}}' -> '/users/:id'
func Template(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '{' {
			b.WriteByte(pattern[i])
			continue
		}

		end := closingBrace(pattern, i)
		if end < 0 {
			b.WriteString(pattern[i:])
			break
		}

		name, _, _ := strings.Cut(pattern[i+1:end], ":")
		b.WriteByte(':')
		b.WriteString(name)
		i = end
	}

	return b.String()
}

// closingBrace returns index of the brace closing the one at start, -1 if it is not closed
func closingBrace(pattern string, start int) int {
	depth := 0
	for i := start; i < len(pattern); i++ {
		switch pattern[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
