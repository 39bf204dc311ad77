package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared quota backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// RedisService counts hits in fixed windows shared by every proxy
// instance pointing at the same Redis.
type RedisService struct {
	client redis.UniversalClient
	table  *LimitTable
	prefix string
	now    func() time.Time
}

var _ Service = (*RedisService)(nil)

// NewRedisService creates a Redis backed quota service. The connection is
// verified with a PING.
func NewRedisService(ctx context.Context, client redis.UniversalClient, table *LimitTable, prefix string) (*RedisService, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if prefix == "" {
		prefix = "quotaguard"
	}
	return &RedisService{
		client: client,
		table:  table,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// NewRedisClient opens a client from configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (s *RedisService) ShouldRateLimit(ctx context.Context, req *Request) (*Response, error) {
	now := s.now()
	hits := int64(req.HitsAddend)
	if hits == 0 {
		hits = 1
	}

	type pending struct {
		index  int
		limit  resolvedLimit
		reset  time.Duration
		result *redis.IntCmd
	}

	var cmds []pending
	pipe := s.client.Pipeline()
	for i, d := range req.Descriptors {
		limit, ok := s.table.lookup(d)
		if !ok {
			continue
		}
		windowStart := now.Truncate(limit.window)
		key := fmt.Sprintf("%s:%s:%d", s.prefix, bucketKey(req.Domain, d), windowStart.Unix())
		incr := pipe.IncrBy(ctx, key, hits)
		pipe.Expire(ctx, key, limit.window)
		cmds = append(cmds, pending{
			index:  i,
			limit:  limit,
			reset:  windowStart.Add(limit.window).Sub(now),
			result: incr,
		})
	}

	statuses := make([]DescriptorStatus, len(req.Descriptors))
	if len(cmds) == 0 {
		return newResponse(statuses), nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}

	for _, p := range cmds {
		count := p.result.Val()
		limit := int64(p.limit.RequestsPerUnit)

		code := CodeOK
		if count > limit {
			code = CodeOverLimit
		}
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		statuses[p.index] = DescriptorStatus{
			Code:               code,
			CurrentLimit:       &RateLimit{RequestsPerUnit: p.limit.RequestsPerUnit, Unit: p.limit.Unit},
			LimitRemaining:     uint32(remaining),
			DurationUntilReset: p.reset,
		}
	}
	return newResponse(statuses), nil
}
