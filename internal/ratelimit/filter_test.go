package ratelimit

import (
	"testing"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/policy"
)

func TestFilter_OkResumes(t *testing.T) {
	h := newHarness(nil)

	if got := h.filter.MessageBegin(h.md); got != filter.StopIteration {
		t.Fatalf("expected StopIteration, got %s", got)
	}
	if h.filter.State() != StateCalling {
		t.Fatalf("expected calling, got %s", h.filter.State())
	}
	if h.client.limitCalls != 1 {
		t.Fatalf("expected 1 query, got %d", h.client.limitCalls)
	}
	if h.client.domain != "dubbo" {
		t.Errorf("expected domain dubbo, got %q", h.client.domain)
	}
	if len(h.client.descriptors) != 1 || h.client.descriptors[0].String() != "remote_address=10.0.0.1" {
		t.Errorf("unexpected descriptors %v", h.client.descriptors)
	}

	h.complete(LimitStatusOK)

	if h.callbacks.continueCalls != 1 {
		t.Errorf("expected decode to resume once, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 0 {
		t.Errorf("expected no local reply, got %d", len(h.callbacks.localReplies))
	}
	if h.scope.value(StatOK) != 1 {
		t.Errorf("expected ok counter 1, got %d", h.scope.value(StatOK))
	}
	if h.filter.State() != StateComplete {
		t.Errorf("expected complete, got %s", h.filter.State())
	}
}

func TestFilter_OverLimitEnforcing(t *testing.T) {
	h := newHarness(nil)
	h.filter.MessageBegin(h.md)
	h.complete(LimitStatusOverLimit)

	if h.callbacks.continueCalls != 0 {
		t.Errorf("expected no resume, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 1 {
		t.Fatalf("expected 1 local reply, got %d", len(h.callbacks.localReplies))
	}
	exc, ok := h.callbacks.localReplies[0].(*api.AppException)
	if !ok {
		t.Fatalf("expected app exception, got %T", h.callbacks.localReplies[0])
	}
	if exc.Type != api.AppExceptionInternalError || exc.Message != MessageOverLimit {
		t.Errorf("unexpected exception %v", exc)
	}
	if !h.callbacks.info.HasResponseFlag(api.RateLimited) {
		t.Error("expected rate limited flag")
	}
	if h.scope.value(StatOverLimit) != 1 {
		t.Errorf("expected over_limit counter 1, got %d", h.scope.value(StatOverLimit))
	}
	if h.filter.State() != StateResponded {
		t.Errorf("expected responded, got %s", h.filter.State())
	}
}

func TestFilter_OverLimitObserveOnly(t *testing.T) {
	h := newHarness(map[string]uint64{RuntimeFilterEnforcing: 0})
	h.filter.MessageBegin(h.md)
	h.complete(LimitStatusOverLimit)

	if h.callbacks.continueCalls != 1 {
		t.Errorf("expected resume, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 0 {
		t.Errorf("expected no local reply, got %d", len(h.callbacks.localReplies))
	}
	if h.callbacks.info.HasResponseFlag(api.RateLimited) {
		t.Error("expected no rate limited flag")
	}
	if h.scope.value(StatOverLimit) != 1 {
		t.Errorf("expected over_limit counter 1, got %d", h.scope.value(StatOverLimit))
	}
}

func TestFilter_ErrorFailureModeDeny(t *testing.T) {
	h := newHarness(nil)
	h.filter.MessageBegin(h.md)
	h.complete(LimitStatusError)

	if h.callbacks.continueCalls != 0 {
		t.Errorf("expected no resume, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 1 {
		t.Fatalf("expected 1 local reply, got %d", len(h.callbacks.localReplies))
	}
	if msg := h.callbacks.localReplies[0].ResponseMessage(); msg != MessageLimiterError {
		t.Errorf("expected %q, got %q", MessageLimiterError, msg)
	}
	if !h.callbacks.info.HasResponseFlag(api.RateLimitServiceError) {
		t.Error("expected rate limit service error flag")
	}
	if h.scope.value(StatError) != 1 {
		t.Errorf("expected error counter 1, got %d", h.scope.value(StatError))
	}
	if h.scope.value(StatFailureModeAllowed) != 0 {
		t.Errorf("expected failure_mode_allowed 0, got %d", h.scope.value(StatFailureModeAllowed))
	}
}

func TestFilter_ErrorFailureModeAllow(t *testing.T) {
	h := newHarness(nil)
	h.config.FailureModeAllow = true
	h.filter.MessageBegin(h.md)
	h.complete(LimitStatusError)

	if h.callbacks.continueCalls != 1 {
		t.Errorf("expected resume, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 0 {
		t.Errorf("expected no local reply, got %d", len(h.callbacks.localReplies))
	}
	if h.callbacks.info.HasResponseFlag(api.RateLimitServiceError) {
		t.Error("expected no service error flag")
	}
	if h.scope.value(StatError) != 1 {
		t.Errorf("expected error counter 1, got %d", h.scope.value(StatError))
	}
	if h.scope.value(StatFailureModeAllowed) != 1 {
		t.Errorf("expected failure_mode_allowed 1, got %d", h.scope.value(StatFailureModeAllowed))
	}
}

func TestFilter_NoRouteEntry(t *testing.T) {
	h := newHarness(nil)
	h.callbacks.route = &fakeRoute{}

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.client.limitCalls != 0 {
		t.Errorf("expected no query, got %d", h.client.limitCalls)
	}
	if h.scope.total() != 0 {
		t.Errorf("expected no counters, got %d", h.scope.total())
	}
	if h.filter.State() != StateNotStarted {
		t.Errorf("expected not started, got %s", h.filter.State())
	}
}

func TestFilter_NoRoute(t *testing.T) {
	h := newHarness(nil)
	h.callbacks.route = nil

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.client.limitCalls != 0 {
		t.Errorf("expected no query, got %d", h.client.limitCalls)
	}
}

func TestFilter_UnknownCluster(t *testing.T) {
	h := newHarness(nil)
	h.callbacks.route = &fakeRoute{entry: &fakeRouteEntry{cluster: "missing", policy: &fakePolicy{}}}

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.client.limitCalls != 0 {
		t.Errorf("expected no query, got %d", h.client.limitCalls)
	}
}

func TestFilter_EmptyDescriptors(t *testing.T) {
	h := newHarness(nil, &fakeEntry{})

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.client.limitCalls != 0 {
		t.Errorf("expected no query, got %d", h.client.limitCalls)
	}
	if h.filter.State() != StateNotStarted {
		t.Errorf("expected not started, got %s", h.filter.State())
	}
}

func TestFilter_DisabledByRuntime(t *testing.T) {
	h := newHarness(map[string]uint64{RuntimeFilterEnabled: 0})

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.client.limitCalls != 0 {
		t.Errorf("expected no query, got %d", h.client.limitCalls)
	}
	if h.filter.State() != StateNotStarted {
		t.Errorf("expected not started, got %s", h.filter.State())
	}
}

func TestFilter_SingleQueryPerMessage(t *testing.T) {
	h := newHarness(nil)

	if got := h.filter.MessageBegin(h.md); got != filter.StopIteration {
		t.Fatalf("expected StopIteration, got %s", got)
	}
	h.filter.MessageBegin(h.md)
	if h.client.limitCalls != 1 {
		t.Errorf("expected 1 query, got %d", h.client.limitCalls)
	}

	h.complete(LimitStatusOK)
	h.filter.MessageBegin(h.md)
	if h.client.limitCalls != 1 {
		t.Errorf("expected no query after completion, got %d", h.client.limitCalls)
	}
}

func TestFilter_SynchronousOk(t *testing.T) {
	h := newHarness(nil)
	h.client.respond = statusPtr(LimitStatusOK)

	if got := h.filter.MessageBegin(h.md); got != filter.Continue {
		t.Fatalf("expected Continue, got %s", got)
	}
	if h.callbacks.continueCalls != 0 {
		t.Errorf("expected no explicit resume, got %d", h.callbacks.continueCalls)
	}
	if h.scope.value(StatOK) != 1 {
		t.Errorf("expected ok counter 1, got %d", h.scope.value(StatOK))
	}
	if h.filter.State() != StateComplete {
		t.Errorf("expected complete, got %s", h.filter.State())
	}
}

func TestFilter_SynchronousOverLimit(t *testing.T) {
	h := newHarness(nil)
	h.client.respond = statusPtr(LimitStatusOverLimit)

	if got := h.filter.MessageBegin(h.md); got != filter.StopIteration {
		t.Fatalf("expected StopIteration, got %s", got)
	}
	if h.callbacks.continueCalls != 0 {
		t.Errorf("expected no resume, got %d", h.callbacks.continueCalls)
	}
	if len(h.callbacks.localReplies) != 1 {
		t.Errorf("expected 1 local reply, got %d", len(h.callbacks.localReplies))
	}
	if h.filter.State() != StateResponded {
		t.Errorf("expected responded, got %s", h.filter.State())
	}
}

func TestFilter_DestroyWhileCalling(t *testing.T) {
	h := newHarness(nil)
	h.filter.MessageBegin(h.md)

	h.filter.OnDestroy()
	if h.client.cancelCalls != 1 {
		t.Errorf("expected 1 cancel, got %d", h.client.cancelCalls)
	}
	if h.filter.State() != StateComplete {
		t.Errorf("expected complete, got %s", h.filter.State())
	}

	h.filter.OnDestroy()
	if h.client.cancelCalls != 1 {
		t.Errorf("expected destroy to be idempotent, got %d cancels", h.client.cancelCalls)
	}
}

func TestFilter_DestroyWithoutQuery(t *testing.T) {
	h := newHarness(nil)
	h.filter.OnDestroy()
	if h.client.cancelCalls != 0 {
		t.Errorf("expected no cancel, got %d", h.client.cancelCalls)
	}

	h.filter.MessageBegin(h.md)
	h.complete(LimitStatusOK)
	h.filter.OnDestroy()
	if h.client.cancelCalls != 0 {
		t.Errorf("expected no cancel after completion, got %d", h.client.cancelCalls)
	}
}

func TestFilter_DisableKeySkipsEntry(t *testing.T) {
	disabled := &fakeEntry{disableKey: "users", descriptors: []api.Descriptor{
		{Entries: []api.DescriptorEntry{{Key: "generic_key", Value: "skipped"}}},
	}}
	enabled := &fakeEntry{descriptors: []api.Descriptor{remoteAddressDescriptor()}}
	h := newHarness(map[string]uint64{DisableKeyRuntimeFlag("users"): 0}, disabled, enabled)

	h.filter.MessageBegin(h.md)
	if disabled.calls != 0 {
		t.Errorf("expected disabled entry not to run, ran %d times", disabled.calls)
	}
	if len(h.client.descriptors) != 1 || h.client.descriptors[0].String() != "remote_address=10.0.0.1" {
		t.Errorf("unexpected descriptors %v", h.client.descriptors)
	}
}

func TestFilter_ReadsRemoteAddressFromStreamInfo(t *testing.T) {
	entry, err := policy.NewEntry(policy.RateLimitConfig{
		Actions: []policy.ActionConfig{{RemoteAddress: &policy.RemoteAddressConfig{}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(nil, entry)

	h.filter.MessageBegin(h.md)
	if len(h.client.descriptors) != 1 || h.client.descriptors[0].String() != "remote_address=10.0.0.1" {
		t.Errorf("unexpected descriptors %v", h.client.descriptors)
	}
}

func TestFilterFactory(t *testing.T) {
	h := newHarness(nil)
	nf := NewFilterFactory(h.config, func(filter.Dispatcher) Client { return h.client })
	if nf.Name != FilterName {
		t.Errorf("expected name %q, got %q", FilterName, nf.Name)
	}
	f := nf.New(nil)
	if _, ok := f.(*Filter); !ok {
		t.Fatalf("expected *Filter, got %T", f)
	}
	if !f.PassthroughSupported() {
		t.Error("expected passthrough support")
	}
}
