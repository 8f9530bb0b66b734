package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// RoutePolicy lists the roles allowed on one (method, path). An empty role
// set on a read route admits any authenticated active identity. Mutating
// routes must list their roles explicitly and fail closed when they do not.
type RoutePolicy struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Roles  []Role `json:"roles"`
}

func (p RoutePolicy) Key() string { return p.Method + " " + p.Path }

// Permits reports whether role may use the route. ADMIN gets no implicit
// access.
func (p RoutePolicy) Permits(role Role) bool {
	if len(p.Roles) == 0 {
		return !IsMutating(p.Method)
	}
	return HasRole(p.Roles, role)
}

// IsMutating reports whether method writes.
func IsMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// PolicyTable is the full static route policy of the server.
type PolicyTable []RoutePolicy

// Validate checks that every mutating route names at least one role, that
// every role is known and that no route is declared twice.
func (t PolicyTable) Validate() error {
	seen := make(map[string]bool, len(t))
	var problems []string
	for _, p := range t {
		key := p.Key()
		if seen[key] {
			problems = append(problems, key+": declared twice")
		}
		seen[key] = true
		if IsMutating(p.Method) && len(p.Roles) == 0 {
			problems = append(problems, key+": mutating route has no allowed roles")
		}
		for _, r := range p.Roles {
			if !r.Valid() {
				problems = append(problems, fmt.Sprintf("%s: unknown role %q", key, r))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("route policy: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Lookup returns the policy for method and the route pattern path.
func (t PolicyTable) Lookup(method, path string) (RoutePolicy, bool) {
	for _, p := range t {
		if p.Method == method && p.Path == path {
			return p, true
		}
	}
	return RoutePolicy{}, false
}
