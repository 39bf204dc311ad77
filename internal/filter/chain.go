package filter

import (
	"encoding/json"
	"log/slog"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/router"
)

// Sink receives the result of a message once the chain is done with it.
type Sink interface {
	// Forward hands an accepted message to the upstream.
	Forward(m *ActiveMessage) error

	// LocalReply delivers a response generated by a filter.
	LocalReply(m *ActiveMessage, resp api.DirectResponse)

	// Finished is called exactly once, after every filter was destroyed.
	Finished(m *ActiveMessage)
}

// Chain creates the filters of every message and drives them through the
// decode hooks in order.
type Chain struct {
	factories []NamedFactory
	router    router.Router
	logger    *slog.Logger
}

// NewChain creates a new filter chain.
func NewChain(logger *slog.Logger, r router.Router, factories ...NamedFactory) *Chain {
	return &Chain{
		factories: factories,
		router:    r,
		logger:    logger,
	}
}

// AddFilter appends a filter factory to the chain.
func (c *Chain) AddFilter(f NamedFactory) {
	c.factories = append(c.factories, f)
}

// Filters returns the configured filter names in order.
func (c *Chain) Filters() []string {
	names := make([]string, len(c.factories))
	for i, f := range c.factories {
		names[i] = f.Name
	}
	return names
}

// NewMessage instantiates the chain for one message. Nothing runs until
// Start is called. All further interaction with the message must happen
// on the goroutine serving d.
func (c *Chain) NewMessage(streamID uint64, md *api.MessageMetadata, body json.RawMessage,
	info *api.StreamInfo, d Dispatcher, sink Sink) *ActiveMessage {
	m := &ActiveMessage{
		chain:    c,
		streamID: streamID,
		metadata: md,
		body:     body,
		info:     info,
		sink:     sink,
	}
	for _, nf := range c.factories {
		af := &activeFilter{msg: m, name: nf.Name, filter: nf.New(d)}
		af.filter.SetDecoderFilterCallbacks(af)
		m.filters = append(m.filters, af)
	}
	return m
}
