package ratelimit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/upstream"
)

// FilterName is the name the rate limit filter is registered under.
const FilterName = "ratelimit"

// State is the lifecycle of a single rate limit decision.
type State int

const (
	StateNotStarted State = iota
	StateCalling
	StateResponded
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateCalling:
		return "calling"
	case StateResponded:
		return "responded"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Filter asks the quota service about every message that has a rate limit
// policy and either resumes decoding or answers with an application
// exception. It only overrides MessageBegin and OnDestroy.
type Filter struct {
	filter.PassThroughDecoderFilter

	config *FilterConfig
	client Client
	logger *slog.Logger

	state          State
	initiatingCall bool
	cluster        *upstream.ClusterInfo
}

var (
	_ filter.DecoderFilter = (*Filter)(nil)
	_ RequestCallbacks     = (*Filter)(nil)
)

// NewFilter creates a filter instance for one message.
func NewFilter(config *FilterConfig, client Client) *Filter {
	return &Filter{
		config: config,
		client: client,
		logger: config.logger(),
	}
}

// NewFilterFactory returns the chain factory for the rate limit filter.
func NewFilterFactory(config *FilterConfig, newClient ClientFactory) filter.NamedFactory {
	return filter.NamedFactory{
		Name: FilterName,
		New: func(d filter.Dispatcher) filter.DecoderFilter {
			return NewFilter(config, newClient(d))
		},
	}
}

// State returns the current decision state.
func (f *Filter) State() State { return f.state }

func (f *Filter) MessageBegin(md *api.MessageMetadata) filter.FilterStatus {
	if !f.config.snapshot().FeatureEnabled(RuntimeFilterEnabled, 100) {
		return filter.Continue
	}

	f.initiateCall(md)
	if f.state == StateCalling || f.state == StateResponded {
		return filter.StopIteration
	}
	return filter.Continue
}

func (f *Filter) initiateCall(md *api.MessageMetadata) {
	if f.state != StateNotStarted {
		return
	}

	route := f.DecoderCallbacks.Route()
	if route == nil || route.RouteEntry() == nil {
		return
	}
	entry := route.RouteEntry()

	cluster := f.config.ClusterManager.Cluster(entry.ClusterName())
	if cluster == nil {
		return
	}
	f.cluster = cluster

	info := f.DecoderCallbacks.StreamInfo()
	descriptors := PopulateDescriptors(entry.RateLimitPolicy(), f.config.Stage, md, entry,
		f.config.LocalClusterName, info.DownstreamRemoteAddress, f.config.snapshot())
	if len(descriptors) == 0 {
		return
	}

	f.logger.Debug("rate limit query",
		"stream", f.DecoderCallbacks.StreamID(),
		"cluster", cluster.Name,
		"domain", f.config.Domain,
		"descriptors", len(descriptors),
	)

	f.state = StateCalling
	f.initiatingCall = true
	f.client.Limit(context.Background(), f, f.config.Domain, descriptors, info)
	f.initiatingCall = false
}

func (f *Filter) OnDestroy() {
	if f.state == StateCalling {
		f.state = StateComplete
		f.client.Cancel()
	}
}

// Complete applies the verdict. Descriptor statuses and header additions
// are accepted but not applied to any response.
func (f *Filter) Complete(status LimitStatus, _ []DescriptorStatus, _, _ http.Header) {
	f.state = StateComplete
	scope := f.cluster.Stats

	f.logger.Debug("rate limit verdict",
		"stream", f.DecoderCallbacks.StreamID(),
		"cluster", f.cluster.Name,
		"status", status.String(),
	)

	switch status {
	case LimitStatusOK:
		scope.Counter(StatOK).Inc()
	case LimitStatusError:
		scope.Counter(StatError).Inc()
		if !f.config.FailureModeAllow {
			f.state = StateResponded
			f.DecoderCallbacks.StreamInfo().SetResponseFlag(api.RateLimitServiceError)
			f.DecoderCallbacks.SendLocalReply(
				api.NewAppException(api.AppExceptionInternalError, MessageLimiterError), false)
			return
		}
		scope.Counter(StatFailureModeAllowed).Inc()
	case LimitStatusOverLimit:
		scope.Counter(StatOverLimit).Inc()
		if f.config.snapshot().FeatureEnabled(RuntimeFilterEnforcing, 100) {
			f.state = StateResponded
			f.DecoderCallbacks.StreamInfo().SetResponseFlag(api.RateLimited)
			f.DecoderCallbacks.SendLocalReply(
				api.NewAppException(api.AppExceptionInternalError, MessageOverLimit), false)
			return
		}
	}

	if !f.initiatingCall {
		f.DecoderCallbacks.ContinueDecoding()
	}
}
