package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type chanDispatcher struct{ ch chan func() }

func newChanDispatcher() *chanDispatcher { return &chanDispatcher{ch: make(chan func(), 4)} }

func (d *chanDispatcher) Post(fn func()) { d.ch <- fn }

func (d *chanDispatcher) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-d.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted completion")
	}
}

type serviceFunc func(ctx context.Context, req *Request) (*Response, error)

func (f serviceFunc) ShouldRateLimit(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

type recordingCallbacks struct {
	calls    int
	status   LimitStatus
	statuses []DescriptorStatus
	headers  http.Header
}

func (r *recordingCallbacks) Complete(status LimitStatus, statuses []DescriptorStatus, responseHeaders, _ http.Header) {
	r.calls++
	r.status = status
	r.statuses = statuses
	r.headers = responseHeaders
}

func TestAsyncClient_DeliversOnDispatcher(t *testing.T) {
	d := newChanDispatcher()
	svc := serviceFunc(func(_ context.Context, req *Request) (*Response, error) {
		if req.Domain != "dubbo" || req.HitsAddend != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		return &Response{OverallCode: CodeOverLimit}, nil
	})
	c := NewAsyncClient(svc, d)
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	if cb.calls != 0 {
		t.Fatal("expected completion to wait for the dispatcher")
	}
	d.runNext(t)

	if cb.calls != 1 {
		t.Fatalf("expected 1 completion, got %d", cb.calls)
	}
	if cb.status != LimitStatusOverLimit {
		t.Errorf("expected over_limit, got %s", cb.status)
	}
}

func TestAsyncClient_ServiceError(t *testing.T) {
	d := newChanDispatcher()
	svc := serviceFunc(func(context.Context, *Request) (*Response, error) {
		return nil, errors.New("connection refused")
	})
	c := NewAsyncClient(svc, d)
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	d.runNext(t)

	if cb.calls != 1 || cb.status != LimitStatusError {
		t.Errorf("expected one error completion, got %d %s", cb.calls, cb.status)
	}
}

func TestAsyncClient_NilResponseIsError(t *testing.T) {
	svc := serviceFunc(func(context.Context, *Request) (*Response, error) { return nil, nil })
	c := NewAsyncClient(svc, nil, WithInlineCompletion())
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	if cb.calls != 1 || cb.status != LimitStatusError {
		t.Errorf("expected one error completion, got %d %s", cb.calls, cb.status)
	}
}

func TestAsyncClient_Timeout(t *testing.T) {
	d := newChanDispatcher()
	svc := serviceFunc(func(ctx context.Context, _ *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewAsyncClient(svc, d, WithTimeout(10*time.Millisecond))
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	d.runNext(t)

	if cb.calls != 1 || cb.status != LimitStatusError {
		t.Errorf("expected one error completion, got %d %s", cb.calls, cb.status)
	}
}

func TestAsyncClient_CancelDropsLateResult(t *testing.T) {
	d := newChanDispatcher()
	release := make(chan struct{})
	cancelled := make(chan struct{})
	svc := serviceFunc(func(ctx context.Context, _ *Request) (*Response, error) {
		<-ctx.Done()
		close(cancelled)
		<-release
		return &Response{OverallCode: CodeOK}, nil
	})
	c := NewAsyncClient(svc, d)
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	c.Cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the query context to be cancelled")
	}
	close(release)
	d.runNext(t)

	if cb.calls != 0 {
		t.Errorf("expected no completion after cancel, got %d", cb.calls)
	}
}

func TestAsyncClient_NewQuerySupersedesOld(t *testing.T) {
	d := newChanDispatcher()
	svc := serviceFunc(func(_ context.Context, req *Request) (*Response, error) {
		if req.Domain == "first" {
			return &Response{OverallCode: CodeOverLimit}, nil
		}
		return &Response{OverallCode: CodeOK}, nil
	})
	c := NewAsyncClient(svc, d)
	first := &recordingCallbacks{}
	second := &recordingCallbacks{}

	c.Limit(context.Background(), first, "first", nil, nil)
	c.Limit(context.Background(), second, "second", nil, nil)
	d.runNext(t)
	d.runNext(t)

	if first.calls != 0 {
		t.Errorf("expected superseded query to be dropped, got %d", first.calls)
	}
	if second.calls != 1 || second.status != LimitStatusOK {
		t.Errorf("expected one ok completion, got %d %s", second.calls, second.status)
	}
}

func TestAsyncClient_InlineCompletion(t *testing.T) {
	svc := serviceFunc(func(context.Context, *Request) (*Response, error) {
		return &Response{
			OverallCode: CodeOK,
			Statuses:    []DescriptorStatus{{Code: CodeOK}},
			ResponseHeadersToAdd: http.Header{
				"X-Ratelimit-Remaining": []string{"4"},
			},
		}, nil
	})
	c := NewAsyncClient(svc, nil, WithInlineCompletion())
	cb := &recordingCallbacks{}

	c.Limit(context.Background(), cb, "dubbo", nil, nil)
	if cb.calls != 1 || cb.status != LimitStatusOK {
		t.Fatalf("expected inline ok completion, got %d %s", cb.calls, cb.status)
	}
	if len(cb.statuses) != 1 {
		t.Errorf("expected statuses to be passed through, got %d", len(cb.statuses))
	}
	if cb.headers.Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("expected headers to be passed through, got %v", cb.headers)
	}

	c.Cancel()
	if cb.calls != 1 {
		t.Errorf("expected cancel after completion to be a no-op")
	}
}
