package router

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/fabian4/devproxy/internal/model"
)

// ErrNoFallback is returned by New when no route matches every path.
var ErrNoFallback = errors.New("router: no catch-all route (path_prefix \"/\")")

// Table is an immutable, ordered list of prefix rules. The first match wins
// and the last rule is always the catch-all.
type Table struct {
	routes []model.Route
}

// New checks that the routes end in exactly one catch-all and returns the table.
// A configuration without a catch-all is rejected here so routing never fails per request.
func New(routes []model.Route) (*Table, error) {
	fallback := -1
	for i, r := range routes {
		if r.PathPrefix == "/" {
			fallback = i
			break
		}
	}
	if fallback < 0 {
		return nil, ErrNoFallback
	}
	if fallback != len(routes)-1 {
		return nil, errors.Errorf("router: route %q is unreachable after catch-all %q",
			routes[fallback+1].Name, routes[fallback].Name)
	}
	rs := make([]model.Route, len(routes))
	copy(rs, routes)
	return &Table{routes: rs}, nil
}

// Route returns the first route whose prefix matches path. It never returns nil.
func (t *Table) Route(path string) *model.Route {
	for i := range t.routes {
		if pathPrefixMatch(path, t.routes[i].PathPrefix) {
			return &t.routes[i]
		}
	}
	// unreachable: New guarantees a catch-all
	return &t.routes[len(t.routes)-1]
}

// Routes returns a copy of the table in priority order.
func (t *Table) Routes() []model.Route {
	out := make([]model.Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// pathPrefixMatch treats PathPrefix as a path-segment prefix, not a raw string prefix.
// Matching is case-sensitive.
//
//	prefix="/api"  matches "/api", "/api/", "/api/v1" but NOT "/apiary"
//	prefix="/api/" matches "/api/v1", "/api/foo" but NOT "/api"
//	prefix="/"     matches everything.
func pathPrefixMatch(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}
