// Package envelope implements the line-delimited JSON framing carried over
// the proxy's stdio transport.
//
// Every line is one message:
//
//	{"id":7,"type":"request","service":"org.apache.dubbo.UserService",
//	 "method":"get","group":"","version":"1.0.0",
//	 "headers":{"tenant":"acme"},"body":["alice"]}
package envelope

import (
	"encoding/json"

	"github.com/tkingovr/quotaguard/api"
)

// Envelope is a single framed message.
type Envelope struct {
	ID        int64             `json:"id"`
	Type      api.MessageType   `json:"type,omitempty"`
	Service   string            `json:"service,omitempty"`
	Method    string            `json:"method,omitempty"`
	Group     string            `json:"group,omitempty"`
	Version   string            `json:"version,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Exception *Exception        `json:"exception,omitempty"`
}

// Exception is the payload of an exception envelope.
type Exception struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Metadata returns the routing attributes of the envelope.
func (e *Envelope) Metadata() *api.MessageMetadata {
	return &api.MessageMetadata{
		RequestID:   e.ID,
		MessageType: e.Type,
		ServiceName: e.Service,
		MethodName:  e.Method,
		Group:       e.Group,
		Version:     e.Version,
		Headers:     e.Headers,
	}
}

// IsCall reports whether the envelope is a request or oneway call that
// goes through the filter chain.
func (e *Envelope) IsCall() bool {
	return e.Type == "" || e.Type == api.MessageTypeRequest || e.Type == api.MessageTypeOneway
}
