package envelope

import (
	"encoding/json"

	"github.com/tkingovr/quotaguard/api"
)

// NewExceptionResponse creates the exception envelope answering request id.
func NewExceptionResponse(id int64, exc *api.AppException) *Envelope {
	return &Envelope{
		ID:   id,
		Type: api.MessageTypeException,
		Exception: &Exception{
			Type:    exc.Type.String(),
			Message: exc.Message,
		},
	}
}

// NewDirectResponse converts any local reply into an envelope.
func NewDirectResponse(id int64, resp api.DirectResponse) *Envelope {
	if exc, ok := resp.(*api.AppException); ok {
		return NewExceptionResponse(id, exc)
	}
	return &Envelope{
		ID:   id,
		Type: api.MessageTypeException,
		Exception: &Exception{
			Type:    resp.ResponseType(),
			Message: resp.ResponseMessage(),
		},
	}
}

// Marshal encodes an envelope as a single line without the trailing
// newline.
func Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}
