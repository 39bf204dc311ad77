package router

import (
	"fmt"
	"regexp"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/policy"
)

// RouteEntry is the resolved routing decision for a message.
type RouteEntry interface {
	ClusterName() string
	RateLimitPolicy() policy.RateLimitPolicy
}

// Route wraps a RouteEntry. RouteEntry may return nil.
type Route interface {
	RouteEntry() RouteEntry
}

// Router resolves the route of a message.
type Router interface {
	// Route returns the first matching route, or nil.
	Route(md *api.MessageMetadata) Route
}

// MatchConfig selects the messages a route applies to. Empty fields match
// anything.
type MatchConfig struct {
	Interface   string `yaml:"interface" json:"interface"`
	Group       string `yaml:"group,omitempty" json:"group,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Method      string `yaml:"method,omitempty" json:"method,omitempty"`
	MethodRegex string `yaml:"method_regex,omitempty" json:"method_regex,omitempty"`
}

// ActionConfig is the route target.
type ActionConfig struct {
	Cluster string `yaml:"cluster" json:"cluster"`
}

// RouteConfig is a single configured route.
type RouteConfig struct {
	Name       string                   `yaml:"name" json:"name"`
	Match      MatchConfig              `yaml:"match" json:"match"`
	Route      ActionConfig             `yaml:"route" json:"route"`
	RateLimits []policy.RateLimitConfig `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
}

// ConfigRouter implements first-match-wins routing over configured routes.
type ConfigRouter struct {
	routes []*routeEntry
}

var _ Router = (*ConfigRouter)(nil)

// New builds a router from configuration.
func New(cfgs []RouteConfig) (*ConfigRouter, error) {
	r := &ConfigRouter{}
	for i, cfg := range cfgs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("routes[%d]", i)
		}
		if cfg.Route.Cluster == "" {
			return nil, fmt.Errorf("route %q: route.cluster is required", name)
		}
		if cfg.Match.Method != "" && cfg.Match.MethodRegex != "" {
			return nil, fmt.Errorf("route %q: method and method_regex are mutually exclusive", name)
		}
		e := &routeEntry{name: name, match: cfg.Match, cluster: cfg.Route.Cluster}
		if cfg.Match.MethodRegex != "" {
			re, err := regexp.Compile(cfg.Match.MethodRegex)
			if err != nil {
				return nil, fmt.Errorf("route %q: method_regex invalid: %w", name, err)
			}
			e.methodRegex = re
		}
		p, err := policy.NewPolicy(cfg.RateLimits)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
		e.policy = p
		r.routes = append(r.routes, e)
	}
	return r, nil
}

func (r *ConfigRouter) Route(md *api.MessageMetadata) Route {
	if md == nil {
		return nil
	}
	for _, e := range r.routes {
		if e.matches(md) {
			return e
		}
	}
	return nil
}

type routeEntry struct {
	name        string
	match       MatchConfig
	methodRegex *regexp.Regexp
	cluster     string
	policy      *policy.Policy
}

func (e *routeEntry) RouteEntry() RouteEntry                  { return e }
func (e *routeEntry) ClusterName() string                     { return e.cluster }
func (e *routeEntry) RateLimitPolicy() policy.RateLimitPolicy { return e.policy }

// Name returns the configured route name.
func (e *routeEntry) Name() string { return e.name }

func (e *routeEntry) matches(md *api.MessageMetadata) bool {
	if e.match.Interface != "" && e.match.Interface != md.ServiceName {
		return false
	}
	if e.match.Group != "" && e.match.Group != md.Group {
		return false
	}
	if e.match.Version != "" && e.match.Version != md.Version {
		return false
	}
	if e.match.Method != "" && e.match.Method != md.MethodName {
		return false
	}
	if e.methodRegex != nil && !e.methodRegex.MatchString(md.MethodName) {
		return false
	}
	return true
}
