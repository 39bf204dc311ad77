package filter

import (
	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/router"
)

// FilterStatus tells the pipeline whether to keep going after a hook.
type FilterStatus int

const (
	// Continue hands the event to the next filter.
	Continue FilterStatus = iota
	// StopIteration suspends the message until the stopping filter calls
	// ContinueDecoding or sends a local reply.
	StopIteration
)

func (s FilterStatus) String() string {
	if s == StopIteration {
		return "stop_iteration"
	}
	return "continue"
}

// DecoderFilter is a single step in the message decoding pipeline. The
// pipeline invokes the hooks in decode order; every hook runs on the
// owning stream's event loop.
type DecoderFilter interface {
	// OnDestroy is called once the message is finished or the stream is
	// torn down. Outstanding asynchronous work must be cancelled here.
	OnDestroy()

	// SetDecoderFilterCallbacks is called once before any hook.
	SetDecoderFilterCallbacks(cb DecoderFilterCallbacks)

	TransportBegin(md *api.MessageMetadata) FilterStatus
	TransportEnd() FilterStatus

	// PassthroughSupported reports whether the filter accepts the message
	// body as an opaque buffer. If any filter in the chain returns false,
	// the body is delivered through the structured hooks instead.
	PassthroughSupported() bool
	PassthroughData(data []byte) FilterStatus

	MessageBegin(md *api.MessageMetadata) FilterStatus
	MessageEnd() FilterStatus

	StructBegin(name string) FilterStatus
	StructEnd() FilterStatus
	FieldBegin(name string, fieldType *api.FieldType, fieldID *int16) FilterStatus
	FieldEnd() FilterStatus

	BoolValue(v *bool) FilterStatus
	ByteValue(v *uint8) FilterStatus
	Int16Value(v *int16) FilterStatus
	Int32Value(v *int32) FilterStatus
	Int64Value(v *int64) FilterStatus
	DoubleValue(v *float64) FilterStatus
	StringValue(v string) FilterStatus

	MapBegin(keyType, valueType *api.FieldType, size *uint32) FilterStatus
	MapEnd() FilterStatus
	ListBegin(elemType *api.FieldType, size *uint32) FilterStatus
	ListEnd() FilterStatus
	SetBegin(elemType *api.FieldType, size *uint32) FilterStatus
	SetEnd() FilterStatus
}

// DecoderFilterCallbacks is the pipeline surface exposed to a filter.
type DecoderFilterCallbacks interface {
	// StreamID identifies the message's stream on its connection.
	StreamID() uint64

	// Route returns the route for the current message, or nil.
	Route() router.Route

	// StreamInfo returns the mutable diagnostics of the stream.
	StreamInfo() *api.StreamInfo

	// SendLocalReply answers the message with a response generated by the
	// proxy. Decoding of the message stops.
	SendLocalReply(resp api.DirectResponse, endStream bool)

	// ContinueDecoding resumes a message the calling filter stopped.
	ContinueDecoding()
}

// Dispatcher serializes work onto a stream's event loop.
type Dispatcher interface {
	Post(fn func())
}

// FactoryFunc creates a filter instance for one message.
type FactoryFunc func(d Dispatcher) DecoderFilter

// NamedFactory pairs a filter factory with the name used in logs.
type NamedFactory struct {
	Name string
	New  FactoryFunc
}
