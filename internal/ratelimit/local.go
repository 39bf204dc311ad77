package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalService keeps one token bucket per domain and descriptor in memory.
// Buckets refill continuously and hold at most RequestsPerUnit tokens.
type LocalService struct {
	table *LimitTable
	now   func() time.Time

	mu           sync.Mutex
	buckets      map[string]*bucket
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	limit    resolvedLimit
	lastSeen time.Time
}

var _ Service = (*LocalService)(nil)

// LocalOption configures a LocalService.
type LocalOption func(*LocalService)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) LocalOption {
	return func(s *LocalService) { s.idleTTL = d }
}

// WithCleanupEvery sets the janitor period.
func WithCleanupEvery(d time.Duration) LocalOption {
	return func(s *LocalService) { s.cleanupEvery = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(s *LocalService) { s.now = now }
}

// NewLocalService creates an in-memory quota service.
func NewLocalService(table *LimitTable, opts ...LocalOption) *LocalService {
	s := &LocalService{
		table:        table,
		now:          time.Now,
		buckets:      make(map[string]*bucket),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalService) ShouldRateLimit(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	hits := int(req.HitsAddend)
	if hits == 0 {
		hits = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]DescriptorStatus, len(req.Descriptors))
	for i, d := range req.Descriptors {
		limit, ok := s.table.lookup(d)
		if !ok {
			statuses[i] = DescriptorStatus{Code: CodeOK}
			continue
		}

		b := s.bucket(bucketKey(req.Domain, d), limit, now)
		code := CodeOK
		if !b.lim.AllowN(now, hits) {
			code = CodeOverLimit
		}

		tokens := b.lim.TokensAt(now)
		if tokens < 0 {
			tokens = 0
		}
		missing := float64(limit.RequestsPerUnit) - tokens
		statuses[i] = DescriptorStatus{
			Code:               code,
			CurrentLimit:       &RateLimit{RequestsPerUnit: limit.RequestsPerUnit, Unit: limit.Unit},
			LimitRemaining:     uint32(tokens),
			DurationUntilReset: time.Duration(missing / float64(b.lim.Limit()) * float64(time.Second)),
		}
	}
	return newResponse(statuses), nil
}

// bucket returns the bucket for key. Callers hold s.mu.
func (s *LocalService) bucket(key string, limit resolvedLimit, now time.Time) *bucket {
	if b, ok := s.buckets[key]; ok && b.limit == limit {
		b.lastSeen = now
		return b
	}
	every := limit.window / time.Duration(limit.RequestsPerUnit)
	b := &bucket{
		lim:      rate.NewLimiter(rate.Every(every), int(limit.RequestsPerUnit)),
		limit:    limit,
		lastSeen: now,
	}
	s.buckets[key] = b
	return b
}

// Len returns the number of live buckets.
func (s *LocalService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Cleanup drops buckets idle for longer than the idle TTL.
func (s *LocalService) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

// StartJanitor periodically runs Cleanup until ctx is cancelled.
func (s *LocalService) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
