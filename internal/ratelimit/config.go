package ratelimit

import (
	"fmt"
	"log/slog"

	"github.com/tkingovr/quotaguard/internal/runtime"
	"github.com/tkingovr/quotaguard/internal/upstream"
)

// Runtime keys read by the filter.
const (
	RuntimeFilterEnabled   = "ratelimit.dubbo_filter_enabled"
	RuntimeFilterEnforcing = "ratelimit.dubbo_filter_enforcing"
)

// DisableKeyRuntimeFlag is the runtime key gating a policy entry with the
// given disable key.
func DisableKeyRuntimeFlag(key string) string {
	return fmt.Sprintf("ratelimit.%s.dubbo_filter_enabled", key)
}

// Cluster stat names.
const (
	StatOK                 = "ratelimit.ok"
	StatError              = "ratelimit.error"
	StatOverLimit          = "ratelimit.over_limit"
	StatFailureModeAllowed = "ratelimit.failure_mode_allowed"
)

// Local reply messages.
const (
	MessageLimiterError = "limiter error"
	MessageOverLimit    = "over limit"
)

// RuntimeSource provides the current runtime snapshot.
type RuntimeSource interface {
	Snapshot() runtime.Snapshot
}

// FilterConfig is shared by every filter instance of a chain.
type FilterConfig struct {
	Domain           string
	Stage            uint32
	FailureModeAllow bool
	LocalClusterName string
	Runtime          RuntimeSource
	ClusterManager   upstream.ClusterManager
	Logger           *slog.Logger
}

func (c *FilterConfig) snapshot() runtime.Snapshot {
	return c.Runtime.Snapshot()
}

func (c *FilterConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
