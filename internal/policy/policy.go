package policy

import (
	"fmt"
	"net/netip"

	"github.com/tkingovr/quotaguard/api"
)

// MaxStage is the highest stage a policy entry may be assigned to.
const MaxStage = 10

// RouteInfo is the part of a route entry descriptor actions read.
type RouteInfo interface {
	ClusterName() string
}

// RateLimitPolicyEntry produces descriptors for one configured rate limit.
type RateLimitPolicyEntry interface {
	Stage() uint32
	DisableKey() string

	// PopulateDescriptors appends zero or more descriptors and returns the
	// extended slice.
	PopulateDescriptors(route RouteInfo, descriptors []api.Descriptor, localServiceCluster string,
		md *api.MessageMetadata, remote netip.Addr) []api.Descriptor
}

// RateLimitPolicy is the ordered set of rate limit entries of a route.
type RateLimitPolicy interface {
	// GetApplicableRateLimit returns the entries of the given stage in
	// configured order.
	GetApplicableRateLimit(stage uint32) []RateLimitPolicyEntry
	Empty() bool
}

// Policy is the configured RateLimitPolicy of a route.
type Policy struct {
	entries []RateLimitPolicyEntry
	byStage [MaxStage + 1][]RateLimitPolicyEntry
}

var _ RateLimitPolicy = (*Policy)(nil)

// NewPolicy builds a policy from configuration.
func NewPolicy(cfgs []RateLimitConfig) (*Policy, error) {
	p := &Policy{}
	for i, cfg := range cfgs {
		e, err := NewEntry(cfg)
		if err != nil {
			return nil, fmt.Errorf("rate_limits[%d]: %w", i, err)
		}
		p.entries = append(p.entries, e)
		p.byStage[e.Stage()] = append(p.byStage[e.Stage()], e)
	}
	return p, nil
}

func (p *Policy) GetApplicableRateLimit(stage uint32) []RateLimitPolicyEntry {
	if stage > MaxStage {
		return nil
	}
	return p.byStage[stage]
}

func (p *Policy) Empty() bool { return len(p.entries) == 0 }

// Entry is a configured RateLimitPolicyEntry: a list of actions whose
// entries form a single descriptor.
type Entry struct {
	stage      uint32
	disableKey string
	actions    []Action
}

// NewEntry builds a policy entry from configuration.
func NewEntry(cfg RateLimitConfig) (*Entry, error) {
	if cfg.Stage > MaxStage {
		return nil, fmt.Errorf("stage %d exceeds max stage %d", cfg.Stage, MaxStage)
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("at least one action is required")
	}
	e := &Entry{stage: cfg.Stage, disableKey: cfg.DisableKey}
	for i, ac := range cfg.Actions {
		a, err := NewAction(ac)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		e.actions = append(e.actions, a)
	}
	return e, nil
}

func (e *Entry) Stage() uint32      { return e.stage }
func (e *Entry) DisableKey() string { return e.disableKey }

// PopulateDescriptors runs every action in order. If any action cannot
// produce its entry the entry contributes nothing.
func (e *Entry) PopulateDescriptors(route RouteInfo, descriptors []api.Descriptor, localServiceCluster string,
	md *api.MessageMetadata, remote netip.Addr) []api.Descriptor {
	in := &ActionInput{
		Route:               route,
		LocalServiceCluster: localServiceCluster,
		Metadata:            md,
		RemoteAddress:       remote,
	}

	var d api.Descriptor
	for _, a := range e.actions {
		if !a.Populate(in, &d) {
			return descriptors
		}
	}
	if len(d.Entries) == 0 {
		return descriptors
	}
	return append(descriptors, d)
}
