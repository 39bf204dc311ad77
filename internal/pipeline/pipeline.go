// Package pipeline assembles the filter chain and its collaborators from a
// loaded configuration.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkingovr/quotaguard/internal/config"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/ratelimit"
	"github.com/tkingovr/quotaguard/internal/runtime"
	"github.com/tkingovr/quotaguard/internal/stats"
	"github.com/tkingovr/quotaguard/internal/upstream"
)

// StatsNamespace prefixes every exported metric.
const StatsNamespace = "quotaguard"

// Options tunes Build.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// Service overrides the quota backend selected by the configuration.
	Service ratelimit.Service
}

// Pipeline is everything a transport needs to run messages.
type Pipeline struct {
	Chain    *filter.Chain
	Runtime  *runtime.Loader
	Stats    *stats.Store
	Clusters *upstream.Manager
	Service  ratelimit.Service

	closers []func() error
}

// Build wires the configured router, clusters, runtime flags and quota
// service into a chain holding the rate limit filter.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	p := &Pipeline{}

	store, err := stats.NewStore(reg, StatsNamespace)
	if err != nil {
		return nil, err
	}
	p.Stats = store

	clusters, err := upstream.NewManager(store, cfg.Clusters)
	if err != nil {
		return nil, fmt.Errorf("building clusters: %w", err)
	}
	p.Clusters = clusters

	rt, err := runtime.NewLoader(cfg.RuntimeFile)
	if err != nil {
		return nil, fmt.Errorf("loading runtime flags: %w", err)
	}
	p.Runtime = rt

	clientOpts := []ratelimit.ClientOption{
		ratelimit.WithTimeout(cfg.Timeout),
		ratelimit.WithLogger(logger),
	}

	svc := opts.Service
	switch {
	case svc != nil:
	case cfg.Backend == config.BackendRedis:
		client := ratelimit.NewRedisClient(cfg.Redis)
		p.closers = append(p.closers, client.Close)
		svc, err = ratelimit.NewRedisService(ctx, client, cfg.Limits, cfg.Redis.Prefix)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
	default:
		local := ratelimit.NewLocalService(cfg.Limits)
		local.StartJanitor(ctx)
		svc = local
		clientOpts = append(clientOpts, ratelimit.WithInlineCompletion())
	}
	p.Service = svc

	filterCfg := &ratelimit.FilterConfig{
		Domain:           cfg.Domain,
		Stage:            cfg.Stage,
		FailureModeAllow: cfg.FailureModeAllow,
		LocalClusterName: cfg.LocalCluster,
		Runtime:          rt,
		ClusterManager:   clusters,
		Logger:           logger,
	}
	p.Chain = filter.NewChain(logger, cfg.Router,
		ratelimit.NewFilterFactory(filterCfg, ratelimit.NewClientFactory(svc, clientOpts...)),
	)

	logger.Debug("pipeline built",
		"backend", cfg.Backend,
		"domain", cfg.Domain,
		"stage", cfg.Stage,
		"clusters", len(cfg.Clusters),
		"filters", p.Chain.Filters(),
	)
	return p, nil
}

// Close releases backend connections.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
