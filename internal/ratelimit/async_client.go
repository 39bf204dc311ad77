package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/filter"
)

// ClientFactory creates a client bound to a stream's dispatcher.
type ClientFactory func(d filter.Dispatcher) Client

// AsyncClient runs queries against a Service and delivers the verdict on
// the owning stream's dispatcher. One query may be in flight at a time.
type AsyncClient struct {
	svc        Service
	dispatcher filter.Dispatcher
	timeout    time.Duration
	inline     bool
	logger     *slog.Logger

	// Owned by the dispatcher goroutine.
	callbacks  RequestCallbacks
	cancel     context.CancelFunc
	generation uint64
}

var _ Client = (*AsyncClient)(nil)

// ClientOption configures an AsyncClient.
type ClientOption func(*AsyncClient)

// WithTimeout bounds every query. Zero disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *AsyncClient) { c.timeout = d }
}

// WithInlineCompletion runs the query on the calling goroutine so the
// verdict is delivered before Limit returns. Use it for in-memory services.
func WithInlineCompletion() ClientOption {
	return func(c *AsyncClient) { c.inline = true }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *AsyncClient) { c.logger = l }
}

// NewAsyncClient creates a client for one filter instance.
func NewAsyncClient(svc Service, d filter.Dispatcher, opts ...ClientOption) *AsyncClient {
	c := &AsyncClient{
		svc:        svc,
		dispatcher: d,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFactory returns a factory creating AsyncClients over svc.
func NewClientFactory(svc Service, opts ...ClientOption) ClientFactory {
	return func(d filter.Dispatcher) Client {
		return NewAsyncClient(svc, d, opts...)
	}
}

func (c *AsyncClient) Limit(ctx context.Context, cb RequestCallbacks, domain string, descriptors []api.Descriptor, _ *api.StreamInfo) {
	c.Cancel()

	c.generation++
	gen := c.generation
	c.callbacks = cb

	if c.timeout > 0 {
		ctx, c.cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		ctx, c.cancel = context.WithCancel(ctx)
	}

	req := &Request{Domain: domain, Descriptors: descriptors, HitsAddend: 1}

	if c.inline {
		resp, err := c.svc.ShouldRateLimit(ctx, req)
		c.onResult(gen, resp, err)
		return
	}

	go func() {
		resp, err := c.svc.ShouldRateLimit(ctx, req)
		c.dispatcher.Post(func() { c.onResult(gen, resp, err) })
	}()
}

func (c *AsyncClient) Cancel() {
	if c.callbacks == nil {
		return
	}
	c.callbacks = nil
	c.release()
}

func (c *AsyncClient) onResult(gen uint64, resp *Response, err error) {
	// A cancelled or superseded query.
	if gen != c.generation || c.callbacks == nil {
		return
	}
	cb := c.callbacks
	c.callbacks = nil
	c.release()

	if err == nil && resp == nil {
		err = fmt.Errorf("empty response from rate limit service")
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		c.logger.Warn("rate limit query failed", "error", err)
		cb.Complete(LimitStatusError, nil, nil, nil)
		return
	}

	status := LimitStatusOK
	if resp.OverallCode == CodeOverLimit {
		status = LimitStatusOverLimit
	}
	cb.Complete(status, resp.Statuses, resp.ResponseHeadersToAdd, resp.RequestHeadersToAdd)
}

func (c *AsyncClient) release() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
