package ratelimit

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/policy"
	"github.com/tkingovr/quotaguard/internal/router"
	"github.com/tkingovr/quotaguard/internal/runtime"
	"github.com/tkingovr/quotaguard/internal/stats"
	"github.com/tkingovr/quotaguard/internal/upstream"
)

// fakeClient records queries. When respond is set the verdict is
// delivered before Limit returns.
type fakeClient struct {
	limitCalls  int
	cancelCalls int
	domain      string
	descriptors []api.Descriptor
	callbacks   RequestCallbacks
	respond     *LimitStatus
}

func (c *fakeClient) Limit(_ context.Context, cb RequestCallbacks, domain string, descriptors []api.Descriptor, _ *api.StreamInfo) {
	c.limitCalls++
	c.domain = domain
	c.descriptors = descriptors
	c.callbacks = cb
	if c.respond != nil {
		cb.Complete(*c.respond, nil, nil, nil)
	}
}

func (c *fakeClient) Cancel() { c.cancelCalls++ }

func statusPtr(s LimitStatus) *LimitStatus { return &s }

type fakeCallbacks struct {
	route         router.Route
	info          *api.StreamInfo
	localReplies  []api.DirectResponse
	continueCalls int
}

var _ filter.DecoderFilterCallbacks = (*fakeCallbacks)(nil)

func (c *fakeCallbacks) StreamID() uint64            { return 1 }
func (c *fakeCallbacks) Route() router.Route         { return c.route }
func (c *fakeCallbacks) StreamInfo() *api.StreamInfo { return c.info }
func (c *fakeCallbacks) ContinueDecoding()           { c.continueCalls++ }

func (c *fakeCallbacks) SendLocalReply(resp api.DirectResponse, _ bool) {
	c.localReplies = append(c.localReplies, resp)
}

type fakeRoute struct{ entry router.RouteEntry }

func (r *fakeRoute) RouteEntry() router.RouteEntry { return r.entry }

type fakeRouteEntry struct {
	cluster string
	policy  policy.RateLimitPolicy
}

func (e *fakeRouteEntry) ClusterName() string                     { return e.cluster }
func (e *fakeRouteEntry) RateLimitPolicy() policy.RateLimitPolicy { return e.policy }

// fakeEntry contributes fixed descriptors.
type fakeEntry struct {
	stage       uint32
	disableKey  string
	descriptors []api.Descriptor
	calls       int
}

func (e *fakeEntry) Stage() uint32      { return e.stage }
func (e *fakeEntry) DisableKey() string { return e.disableKey }

func (e *fakeEntry) PopulateDescriptors(_ policy.RouteInfo, descriptors []api.Descriptor, _ string,
	_ *api.MessageMetadata, _ netip.Addr) []api.Descriptor {
	e.calls++
	return append(descriptors, e.descriptors...)
}

type fakePolicy struct{ entries []policy.RateLimitPolicyEntry }

func (p *fakePolicy) GetApplicableRateLimit(stage uint32) []policy.RateLimitPolicyEntry {
	var out []policy.RateLimitPolicyEntry
	for _, e := range p.entries {
		if e.Stage() == stage {
			out = append(out, e)
		}
	}
	return out
}

func (p *fakePolicy) Empty() bool { return len(p.entries) == 0 }

type fakeCounter struct{ n int }

func (c *fakeCounter) Inc() { c.n++ }

type fakeScope struct{ counters map[string]*fakeCounter }

func newFakeScope() *fakeScope { return &fakeScope{counters: map[string]*fakeCounter{}} }

func (s *fakeScope) Counter(name string) stats.Counter {
	c, ok := s.counters[name]
	if !ok {
		c = &fakeCounter{}
		s.counters[name] = c
	}
	return c
}

func (s *fakeScope) value(name string) int {
	if c, ok := s.counters[name]; ok {
		return c.n
	}
	return 0
}

func (s *fakeScope) total() int {
	n := 0
	for _, c := range s.counters {
		n += c.n
	}
	return n
}

type fakeClusterManager map[string]*upstream.ClusterInfo

func (m fakeClusterManager) Cluster(name string) *upstream.ClusterInfo { return m[name] }

// harness wires a filter with fakes around it.
type harness struct {
	filter    *Filter
	client    *fakeClient
	callbacks *fakeCallbacks
	scope     *fakeScope
	config    *FilterConfig
	md        *api.MessageMetadata
}

func remoteAddressDescriptor() api.Descriptor {
	return api.Descriptor{Entries: []api.DescriptorEntry{{Key: "remote_address", Value: "10.0.0.1"}}}
}

func newHarness(flags map[string]uint64, entries ...policy.RateLimitPolicyEntry) *harness {
	if len(entries) == 0 {
		entries = []policy.RateLimitPolicyEntry{
			&fakeEntry{descriptors: []api.Descriptor{remoteAddressDescriptor()}},
		}
	}
	scope := newFakeScope()
	config := &FilterConfig{
		Domain:           "dubbo",
		LocalClusterName: "local",
		Runtime:          runtime.NewStatic(flags),
		ClusterManager: fakeClusterManager{
			"users": {Name: "users", Stats: scope},
		},
	}
	client := &fakeClient{}
	cb := &fakeCallbacks{
		route: &fakeRoute{entry: &fakeRouteEntry{
			cluster: "users",
			policy:  &fakePolicy{entries: entries},
		}},
		info: api.NewStreamInfo(netip.MustParseAddr("10.0.0.1")),
	}
	f := NewFilter(config, client)
	f.SetDecoderFilterCallbacks(cb)

	return &harness{
		filter:    f,
		client:    client,
		callbacks: cb,
		scope:     scope,
		config:    config,
		md:        &api.MessageMetadata{RequestID: 1, ServiceName: "org.apache.dubbo.UserService", MethodName: "get"},
	}
}

func (h *harness) complete(status LimitStatus) {
	h.client.callbacks.Complete(status, nil, http.Header{}, http.Header{})
}
