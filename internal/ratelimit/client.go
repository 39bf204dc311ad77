package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tkingovr/quotaguard/api"
)

// LimitStatus is the overall verdict of a quota query.
type LimitStatus int

const (
	// LimitStatusOK means the request is within limits.
	LimitStatusOK LimitStatus = iota
	// LimitStatusError means the quota service could not be reached or failed.
	LimitStatusError
	// LimitStatusOverLimit means at least one descriptor is over its limit.
	LimitStatusOverLimit
)

func (s LimitStatus) String() string {
	switch s {
	case LimitStatusOK:
		return "ok"
	case LimitStatusError:
		return "error"
	case LimitStatusOverLimit:
		return "over_limit"
	}
	return "unknown"
}

// Code is the per-descriptor verdict returned by a quota service.
type Code int

const (
	CodeOK Code = iota
	CodeOverLimit
)

// DescriptorStatus is the verdict for a single descriptor.
type DescriptorStatus struct {
	Code               Code
	CurrentLimit       *RateLimit
	LimitRemaining     uint32
	DurationUntilReset time.Duration
}

// ErrTimeout is returned when the quota service does not answer in time.
var ErrTimeout = errors.New("rate limit service timeout")

// RequestCallbacks receives the verdict of a query. Complete is called
// exactly once per issued query, on the stream's event loop, and never
// after the query was cancelled.
type RequestCallbacks interface {
	Complete(status LimitStatus, statuses []DescriptorStatus, responseHeadersToAdd, requestHeadersToAdd http.Header)
}

// Client issues quota queries on behalf of a single filter instance.
type Client interface {
	// Cancel aborts the outstanding query, if any.
	Cancel()

	// Limit issues a query. ctx carries tracing and deadline information.
	// The callbacks may be invoked before Limit returns.
	Limit(ctx context.Context, cb RequestCallbacks, domain string, descriptors []api.Descriptor, info *api.StreamInfo)
}

// Request is a quota query as seen by a Service.
type Request struct {
	Domain      string
	Descriptors []api.Descriptor
	HitsAddend  uint32
}

// Response is a Service verdict.
type Response struct {
	OverallCode          Code
	Statuses             []DescriptorStatus
	ResponseHeadersToAdd http.Header
	RequestHeadersToAdd  http.Header
}

// Service is a quota decision backend.
type Service interface {
	ShouldRateLimit(ctx context.Context, req *Request) (*Response, error)
}
