package pipeline

import (
	"context"
	"net/netip"
	"time"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/envelope"
	"github.com/tkingovr/quotaguard/internal/filter"
)

// CheckResult is the decision the chain reached for a single message.
type CheckResult struct {
	Outcome       api.Outcome   `json:"outcome"`
	ResponseFlags string        `json:"response_flags"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Check runs env through the chain without an upstream. The quota query
// is real, so a check counts against the limits like any other call.
func (p *Pipeline) Check(ctx context.Context, env *envelope.Envelope, remote netip.Addr) (*CheckResult, error) {
	loop := filter.NewEventLoop(16)
	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = loop.Run(loopCtx) }()

	sink := &checkSink{done: make(chan *CheckResult, 1)}
	var msg *filter.ActiveMessage
	loop.Post(func() {
		msg = p.Chain.NewMessage(0, env.Metadata(), env.Body, api.NewStreamInfo(remote), loop, sink)
		msg.Start()
	})

	select {
	case res := <-sink.done:
		return res, nil
	case <-ctx.Done():
		loop.Post(func() { msg.Reset() })
		<-sink.done
		return nil, ctx.Err()
	}
}

type checkSink struct {
	done chan *CheckResult
}

func (s *checkSink) Forward(*filter.ActiveMessage) error { return nil }

func (s *checkSink) LocalReply(*filter.ActiveMessage, api.DirectResponse) {}

func (s *checkSink) Finished(m *filter.ActiveMessage) {
	res := &CheckResult{
		Outcome:       m.Outcome(),
		ResponseFlags: m.StreamInfo().ResponseFlagsString(),
		Duration:      m.Duration(),
	}
	if r := m.Reply(); r != nil {
		res.Message = r.ResponseMessage()
	}
	s.done <- res
}
