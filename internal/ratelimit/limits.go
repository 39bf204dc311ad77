package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tkingovr/quotaguard/api"
)

// Unit is the window a limit is expressed in.
type Unit string

const (
	UnitSecond Unit = "second"
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
)

// Duration returns the length of the unit.
func (u Unit) Duration() (time.Duration, error) {
	switch u {
	case UnitSecond:
		return time.Second, nil
	case UnitMinute:
		return time.Minute, nil
	case UnitHour:
		return time.Hour, nil
	case UnitDay:
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown unit %q", u)
}

// RateLimit is the limit applied to a descriptor.
type RateLimit struct {
	RequestsPerUnit uint32
	Unit            Unit
}

// LimitConfig assigns a limit to descriptors carrying an entry with the
// given key. An empty Value matches any value.
type LimitConfig struct {
	Key             string `yaml:"key" json:"key"`
	Value           string `yaml:"value,omitempty" json:"value,omitempty"`
	RequestsPerUnit uint32 `yaml:"requests_per_unit" json:"requests_per_unit"`
	Unit            Unit   `yaml:"unit" json:"unit"`
}

type limitKey struct {
	key   string
	value string
}

// LimitTable resolves the limit of a descriptor.
type LimitTable struct {
	limits map[limitKey]resolvedLimit
}

type resolvedLimit struct {
	RateLimit
	window time.Duration
}

// NewLimitTable validates and indexes limit configuration.
func NewLimitTable(cfgs []LimitConfig) (*LimitTable, error) {
	t := &LimitTable{limits: make(map[limitKey]resolvedLimit, len(cfgs))}
	for i, cfg := range cfgs {
		if cfg.Key == "" {
			return nil, fmt.Errorf("limits[%d]: key is required", i)
		}
		if cfg.RequestsPerUnit == 0 {
			return nil, fmt.Errorf("limits[%d]: requests_per_unit must be positive", i)
		}
		window, err := cfg.Unit.Duration()
		if err != nil {
			return nil, fmt.Errorf("limits[%d]: %w", i, err)
		}
		k := limitKey{key: cfg.Key, value: cfg.Value}
		if _, dup := t.limits[k]; dup {
			return nil, fmt.Errorf("limits[%d]: duplicate limit for %s=%s", i, cfg.Key, cfg.Value)
		}
		t.limits[k] = resolvedLimit{
			RateLimit: RateLimit{RequestsPerUnit: cfg.RequestsPerUnit, Unit: cfg.Unit},
			window:    window,
		}
	}
	return t, nil
}

// lookup returns the limit of the first descriptor entry that has one. An
// exact key and value match wins over a key-only match.
func (t *LimitTable) lookup(d api.Descriptor) (resolvedLimit, bool) {
	for _, e := range d.Entries {
		if l, ok := t.limits[limitKey{key: e.Key, value: e.Value}]; ok {
			return l, true
		}
		if l, ok := t.limits[limitKey{key: e.Key}]; ok {
			return l, true
		}
	}
	return resolvedLimit{}, false
}

// rateLimitHeaders describes the most constrained descriptor.
func rateLimitHeaders(statuses []DescriptorStatus) http.Header {
	var tightest *DescriptorStatus
	for i := range statuses {
		s := &statuses[i]
		if s.CurrentLimit == nil {
			continue
		}
		if tightest == nil || s.LimitRemaining < tightest.LimitRemaining {
			tightest = s
		}
	}
	if tightest == nil {
		return nil
	}
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.FormatUint(uint64(tightest.CurrentLimit.RequestsPerUnit), 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatUint(uint64(tightest.LimitRemaining), 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(int64(tightest.DurationUntilReset.Round(time.Second)/time.Second), 10))
	return h
}

// newResponse builds a Response from per-descriptor statuses.
func newResponse(statuses []DescriptorStatus) *Response {
	resp := &Response{OverallCode: CodeOK, Statuses: statuses}
	for _, s := range statuses {
		if s.Code == CodeOverLimit {
			resp.OverallCode = CodeOverLimit
			break
		}
	}
	resp.ResponseHeadersToAdd = rateLimitHeaders(statuses)
	return resp
}

func bucketKey(domain string, d api.Descriptor) string {
	return domain + "|" + d.String()
}

// Limit returns the limit applied to d, if any.
func (t *LimitTable) Limit(d api.Descriptor) (RateLimit, bool) {
	l, ok := t.lookup(d)
	return l.RateLimit, ok
}
