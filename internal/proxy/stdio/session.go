package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/audit"
	"github.com/tkingovr/quotaguard/internal/envelope"
	"github.com/tkingovr/quotaguard/internal/filter"
	"github.com/tkingovr/quotaguard/internal/stats"
)

// ListenerScope is the stats scope of the stdio listener.
const ListenerScope = "listener.stdio"

// Listener stat names.
const (
	StatRequest         = "request"
	StatForwarded       = "request_forwarded"
	StatLocalReply      = "local_reply"
	StatDecodingError   = "request_decoding_error"
	StatReset           = "request_reset"
	StatPassthroughLine = "passthrough"
)

const maxLineSize = 10 * 1024 * 1024

// Session runs one downstream connection: every line read from the
// downstream goes through the chain on a dedicated event loop.
type Session struct {
	logger     *slog.Logger
	chain      *filter.Chain
	store      audit.Store
	scope      stats.Scope
	remote     netip.Addr
	upstream   io.Writer
	downstream *lockedWriter

	// Owned by the event loop.
	loop     *filter.EventLoop
	nextID   uint64
	active   map[uint64]*pending
	draining bool
	drained  chan struct{}
}

type pending struct {
	line []byte
	msg  *filter.ActiveMessage
}

// NewSession creates a session writing accepted lines to upstream and
// local replies to downstream.
func NewSession(logger *slog.Logger, chain *filter.Chain, store audit.Store, scope stats.Scope,
	remote netip.Addr, upstream, downstream io.Writer) *Session {
	if store == nil {
		store = audit.Discard
	}
	return &Session{
		logger:     logger,
		chain:      chain,
		store:      store,
		scope:      scope,
		remote:     remote,
		upstream:   upstream,
		downstream: newLockedWriter(downstream),
		loop:       filter.NewEventLoop(256),
		active:     make(map[uint64]*pending),
		drained:    make(chan struct{}),
	}
}

// Downstream returns the synchronized downstream writer, for responses
// coming back from the upstream.
func (s *Session) Downstream() io.Writer { return s.downstream }

// Serve reads lines from src until EOF, then waits for in-flight messages
// to finish. Cancelling ctx resets the messages still held by a filter.
func (s *Session) Serve(ctx context.Context, src io.Reader) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = s.loop.Run(loopCtx) }()

	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			owned := append([]byte(nil), line...)
			s.loop.Post(func() { s.handleLine(owned) })
		}
		s.loop.Post(s.drain)
		readErr <- scanner.Err()
	}()

	select {
	case <-s.drained:
		return <-readErr
	case <-ctx.Done():
		done := make(chan struct{})
		s.loop.Post(func() {
			s.resetAll()
			close(done)
		})
		<-done
		return ctx.Err()
	}
}

func (s *Session) handleLine(line []byte) {
	env, err := envelope.Parse(line)
	if err != nil {
		s.scope.Counter(StatDecodingError).Inc()
		s.logger.Warn("invalid envelope", "error", err)
		if id, ok := envelope.ParseID(line); ok {
			s.reply(id, true, api.NewAppException(api.AppExceptionProtocolError, err.Error()))
		}
		return
	}

	if !env.IsCall() {
		s.scope.Counter(StatPassthroughLine).Inc()
		if err := s.writeUpstream(line); err != nil {
			s.logger.Error("forwarding non-call envelope", "error", err)
		}
		return
	}

	s.scope.Counter(StatRequest).Inc()
	s.nextID++
	info := api.NewStreamInfo(s.remote)
	p := &pending{line: line}
	p.msg = s.chain.NewMessage(s.nextID, env.Metadata(), env.Body, info, s.loop, s)
	s.active[s.nextID] = p
	p.msg.Start()
}

// Forward implements filter.Sink.
func (s *Session) Forward(m *filter.ActiveMessage) error {
	p, ok := s.active[m.StreamID()]
	if !ok {
		return fmt.Errorf("stream %d is not active", m.StreamID())
	}
	if err := s.writeUpstream(p.line); err != nil {
		return err
	}
	s.scope.Counter(StatForwarded).Inc()
	return nil
}

// LocalReply implements filter.Sink.
func (s *Session) LocalReply(m *filter.ActiveMessage, resp api.DirectResponse) {
	s.scope.Counter(StatLocalReply).Inc()
	md := m.Metadata()
	s.logger.Warn("local reply",
		"stream", m.StreamID(),
		"service", md.ServiceName,
		"method", md.MethodName,
		"message", resp.ResponseMessage(),
		"response_flags", m.StreamInfo().ResponseFlagsString(),
	)
	s.reply(md.RequestID, md.IsTwoWay(), resp)
}

// Finished implements filter.Sink.
func (s *Session) Finished(m *filter.ActiveMessage) {
	delete(s.active, m.StreamID())
	if m.Outcome() == api.OutcomeDropped && m.Err() == "" {
		s.scope.Counter(StatReset).Inc()
	}

	md := m.Metadata()
	rec := &api.DecisionRecord{
		StreamID:      m.StreamID(),
		RequestID:     md.RequestID,
		Service:       md.ServiceName,
		Method:        md.MethodName,
		Outcome:       m.Outcome(),
		ResponseFlags: m.StreamInfo().ResponseFlagsString(),
		Duration:      m.Duration(),
	}
	if s.remote.IsValid() {
		rec.RemoteAddress = s.remote.String()
	}
	if r := m.Reply(); r != nil {
		rec.Message = r.ResponseMessage()
	} else if e := m.Err(); e != "" {
		rec.Message = e
	}
	if err := s.store.Write(context.Background(), rec); err != nil {
		s.logger.Error("writing decision record", "error", err)
	}

	s.checkDrained()
}

func (s *Session) reply(id int64, twoWay bool, resp api.DirectResponse) {
	if !twoWay {
		return
	}
	data, err := envelope.Marshal(envelope.NewDirectResponse(id, resp))
	if err != nil {
		s.logger.Error("encoding local reply", "error", err)
		return
	}
	if err := s.downstream.WriteLine(data); err != nil {
		s.logger.Error("writing local reply", "error", err)
	}
}

func (s *Session) writeUpstream(line []byte) error {
	if _, err := s.upstream.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing to upstream: %w", err)
	}
	return nil
}

func (s *Session) drain() {
	s.draining = true
	s.checkDrained()
}

func (s *Session) checkDrained() {
	if s.draining && len(s.active) == 0 {
		s.draining = false
		close(s.drained)
	}
}

func (s *Session) resetAll() {
	for _, p := range s.active {
		p.msg.Reset()
	}
}

// lockedWriter serializes whole lines from several goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLockedWriter(w io.Writer) *lockedWriter { return &lockedWriter{w: w} }

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// WriteLine writes data followed by a newline in one call.
func (l *lockedWriter) WriteLine(data []byte) error {
	_, err := l.Write(append(data, '\n'))
	return err
}
