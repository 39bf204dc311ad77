package api

// MessageType is the kind of RPC message carried by an envelope.
type MessageType string

const (
	MessageTypeRequest   MessageType = "request"
	MessageTypeResponse  MessageType = "response"
	MessageTypeOneway    MessageType = "oneway"
	MessageTypeException MessageType = "exception"
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// MessageMetadata holds the per-call attributes decoded before filters run.
// Filters must treat it as read-only for the lifetime of the message.
type MessageMetadata struct {
	RequestID   int64             `json:"request_id"`
	MessageType MessageType       `json:"message_type,omitempty"`
	ServiceName string            `json:"service"`
	MethodName  string            `json:"method"`
	Group       string            `json:"group,omitempty"`
	Version     string            `json:"version,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Header returns the attachment header with the given name.
func (m *MessageMetadata) Header(name string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[name]
	return v, ok
}

// IsTwoWay reports whether the caller expects a response.
func (m *MessageMetadata) IsTwoWay() bool {
	return m.MessageType == "" || m.MessageType == MessageTypeRequest
}

// FieldType tags the declared type of a structured value.
type FieldType int8

const (
	FieldTypeStop   FieldType = 0
	FieldTypeBool   FieldType = 2
	FieldTypeByte   FieldType = 3
	FieldTypeDouble FieldType = 4
	FieldTypeI16    FieldType = 6
	FieldTypeI32    FieldType = 8
	FieldTypeI64    FieldType = 10
	FieldTypeString FieldType = 11
	FieldTypeStruct FieldType = 12
	FieldTypeMap    FieldType = 13
	FieldTypeSet    FieldType = 14
	FieldTypeList   FieldType = 15
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeStop:
		return "stop"
	case FieldTypeBool:
		return "bool"
	case FieldTypeByte:
		return "byte"
	case FieldTypeDouble:
		return "double"
	case FieldTypeI16:
		return "i16"
	case FieldTypeI32:
		return "i32"
	case FieldTypeI64:
		return "i64"
	case FieldTypeString:
		return "string"
	case FieldTypeStruct:
		return "struct"
	case FieldTypeMap:
		return "map"
	case FieldTypeSet:
		return "set"
	case FieldTypeList:
		return "list"
	}
	return "unknown"
}
