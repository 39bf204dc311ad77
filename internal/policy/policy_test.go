package policy

import (
	"net/netip"
	"testing"

	"github.com/tkingovr/quotaguard/api"
)

type testRoute struct{ cluster string }

func (r testRoute) ClusterName() string { return r.cluster }

func testMetadata() *api.MessageMetadata {
	return &api.MessageMetadata{
		RequestID:   1,
		ServiceName: "org.apache.dubbo.UserService",
		MethodName:  "getUser",
		Headers:     map[string]string{"tenant": "acme", "x-env": "prod-eu"},
	}
}

func TestPolicy_StagesKeepConfiguredOrder(t *testing.T) {
	p, err := NewPolicy([]RateLimitConfig{
		{Stage: 0, Actions: []ActionConfig{{GenericKey: &GenericKeyConfig{DescriptorValue: "first"}}}},
		{Stage: 1, Actions: []ActionConfig{{GenericKey: &GenericKeyConfig{DescriptorValue: "other-stage"}}}},
		{Stage: 0, DisableKey: "second", Actions: []ActionConfig{{GenericKey: &GenericKeyConfig{DescriptorValue: "second"}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Empty() {
		t.Fatal("expected non-empty policy")
	}

	stage0 := p.GetApplicableRateLimit(0)
	if len(stage0) != 2 {
		t.Fatalf("expected 2 entries in stage 0, got %d", len(stage0))
	}
	if stage0[1].DisableKey() != "second" {
		t.Errorf("expected second entry to keep its disable key, got %q", stage0[1].DisableKey())
	}

	var descriptors []api.Descriptor
	for _, e := range stage0 {
		descriptors = e.PopulateDescriptors(testRoute{"users"}, descriptors, "proxy", testMetadata(), netip.Addr{})
	}
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}
	if descriptors[0].Entries[0].Value != "first" || descriptors[1].Entries[0].Value != "second" {
		t.Errorf("unexpected descriptor order: %v", descriptors)
	}

	if got := p.GetApplicableRateLimit(7); len(got) != 0 {
		t.Errorf("expected no entries in stage 7, got %d", len(got))
	}
	if got := p.GetApplicableRateLimit(MaxStage + 1); got != nil {
		t.Error("expected nil for out of range stage")
	}
}

func TestPolicy_InvalidStage(t *testing.T) {
	_, err := NewPolicy([]RateLimitConfig{
		{Stage: MaxStage + 1, Actions: []ActionConfig{{RemoteAddress: &RemoteAddressConfig{}}}},
	})
	if err == nil {
		t.Fatal("expected error for stage above max")
	}
}

func TestEntry_CombinesActionsIntoOneDescriptor(t *testing.T) {
	e, err := NewEntry(RateLimitConfig{Actions: []ActionConfig{
		{SourceCluster: &SourceClusterConfig{}},
		{DestinationCluster: &DestinationClusterConfig{}},
		{RemoteAddress: &RemoteAddressConfig{}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	got := e.PopulateDescriptors(testRoute{"users"}, nil, "proxy", testMetadata(), netip.MustParseAddr("10.0.0.1"))
	if len(got) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(got))
	}
	want := "source_cluster=proxy,destination_cluster=users,remote_address=10.0.0.1"
	if got[0].String() != want {
		t.Errorf("expected %s, got %s", want, got[0].String())
	}
}

func TestEntry_FailingActionDropsDescriptor(t *testing.T) {
	e, err := NewEntry(RateLimitConfig{Actions: []ActionConfig{
		{GenericKey: &GenericKeyConfig{DescriptorValue: "x"}},
		{RequestHeaders: &RequestHeadersConfig{HeaderName: "missing", DescriptorKey: "m"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	existing := []api.Descriptor{{Entries: []api.DescriptorEntry{{Key: "k", Value: "v"}}}}
	got := e.PopulateDescriptors(testRoute{"users"}, existing, "proxy", testMetadata(), netip.Addr{})
	if len(got) != 1 {
		t.Fatalf("expected only the existing descriptor, got %d", len(got))
	}
}

func TestEntry_NoActions(t *testing.T) {
	if _, err := NewEntry(RateLimitConfig{}); err == nil {
		t.Fatal("expected error for entry without actions")
	}
}
