package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Route is the policy's decision for one path.
type Route int

const (
	// RouteEngine forces the call through the rule engine (default).
	RouteEngine Route = iota
	// RoutePassthrough invokes the module operation directly.
	RoutePassthrough
	// RouteDenied rejects the call at the boundary.
	RouteDenied
)

// Policy is the passthrough allow/deny list, keyed by path. It is data,
// not logic: the only place the engine's escape hatch is configured.
//
// Paths on the passthrough list bypass the rule engine - reserve it for
// unguarded, non-privileged operations (plain lookups, unauthenticated
// reads). Paths on the deny list are rejected outright and take
// precedence, so a path accidentally listed on both stays closed.
// Everything else goes through the rule engine.
type Policy struct {
	Passthrough []string `yaml:"passthrough"`
	Deny        []string `yaml:"deny"`

	passthrough map[string]bool
	deny        map[string]bool
}

// NewPolicy builds a policy from explicit lists. Used by tests; the
// server loads YAML via LoadPolicy.
func NewPolicy(passthrough, deny []string) *Policy {
	p := &Policy{Passthrough: passthrough, Deny: deny}
	p.index()
	return p
}

// LoadPolicy reads a policy YAML file:
//
//	passthrough:
//	  - /paper/lookup
//	deny:
//	  - /identity/grantToken
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	p.index()
	return &p, nil
}

func (p *Policy) index() {
	p.passthrough = make(map[string]bool, len(p.Passthrough))
	for _, path := range p.Passthrough {
		p.passthrough[path] = true
	}
	p.deny = make(map[string]bool, len(p.Deny))
	for _, path := range p.Deny {
		p.deny[path] = true
	}
}

// Decide returns the route for a path.
func (p *Policy) Decide(path string) Route {
	if p == nil {
		return RouteEngine
	}
	if p.deny[path] {
		return RouteDenied
	}
	if p.passthrough[path] {
		return RoutePassthrough
	}
	return RouteEngine
}
