package api

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// DescriptorEntry is a single key/value tag of a rate limit descriptor.
type DescriptorEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Descriptor is an ordered set of entries describing one rate limit dimension.
type Descriptor struct {
	Entries []DescriptorEntry `json:"entries"`
}

// String renders the descriptor as "k1=v1,k2=v2".
func (d Descriptor) String() string {
	parts := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		parts = append(parts, e.Key+"="+e.Value)
	}
	return strings.Join(parts, ",")
}

// ResponseFlag is a machine-readable diagnostic recorded on a stream.
type ResponseFlag uint32

const (
	// RateLimited is set when the call was rejected for being over limit.
	RateLimited ResponseFlag = 1 << iota
	// RateLimitServiceError is set when the call was rejected because the
	// quota service failed.
	RateLimitServiceError
	// UpstreamConnectionFailure is set when forwarding to the upstream failed.
	UpstreamConnectionFailure
)

var responseFlagNames = []struct {
	flag ResponseFlag
	name string
}{
	{RateLimited, "RL"},
	{RateLimitServiceError, "RLSE"},
	{UpstreamConnectionFailure, "UF"},
}

// StreamInfo carries mutable per-stream diagnostics.
type StreamInfo struct {
	StartTime               time.Time
	DownstreamRemoteAddress netip.Addr
	responseFlags           ResponseFlag
}

// NewStreamInfo creates stream diagnostics for a downstream peer.
func NewStreamInfo(remote netip.Addr) *StreamInfo {
	return &StreamInfo{
		StartTime:               time.Now(),
		DownstreamRemoteAddress: remote,
	}
}

// SetResponseFlag records a diagnostic flag.
func (s *StreamInfo) SetResponseFlag(f ResponseFlag) { s.responseFlags |= f }

// HasResponseFlag reports whether the flag was recorded.
func (s *StreamInfo) HasResponseFlag(f ResponseFlag) bool { return s.responseFlags&f != 0 }

// ResponseFlags returns the raw flag set.
func (s *StreamInfo) ResponseFlags() ResponseFlag { return s.responseFlags }

// ResponseFlagsString returns the short names of the recorded flags, or "-".
func (s *StreamInfo) ResponseFlagsString() string {
	var names []string
	for _, n := range responseFlagNames {
		if s.HasResponseFlag(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// AppExceptionType classifies a synthesized application exception.
type AppExceptionType int

const (
	AppExceptionUnknown AppExceptionType = iota
	AppExceptionUnknownMethod
	AppExceptionInvalidMessageType
	AppExceptionWrongMethodName
	AppExceptionBadSequenceID
	AppExceptionMissingResult
	AppExceptionInternalError
	AppExceptionProtocolError
)

func (t AppExceptionType) String() string {
	switch t {
	case AppExceptionUnknownMethod:
		return "unknown_method"
	case AppExceptionInvalidMessageType:
		return "invalid_message_type"
	case AppExceptionWrongMethodName:
		return "wrong_method_name"
	case AppExceptionBadSequenceID:
		return "bad_sequence_id"
	case AppExceptionMissingResult:
		return "missing_result"
	case AppExceptionInternalError:
		return "internal_error"
	case AppExceptionProtocolError:
		return "protocol_error"
	}
	return "unknown"
}

// DirectResponse is a reply produced by the proxy itself rather than the upstream.
type DirectResponse interface {
	// ResponseType names the kind of reply for logging.
	ResponseType() string
	// ResponseMessage is the human-readable text carried by the reply.
	ResponseMessage() string
}

// AppException is an application-level error response synthesized by a filter.
type AppException struct {
	Type    AppExceptionType `json:"type"`
	Message string           `json:"message"`
}

// NewAppException builds an application exception.
func NewAppException(t AppExceptionType, msg string) *AppException {
	return &AppException{Type: t, Message: msg}
}

func (e *AppException) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppException) ResponseType() string    { return "exception" }
func (e *AppException) ResponseMessage() string { return e.Message }
