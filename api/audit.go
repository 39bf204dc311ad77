package api

import "time"

// Outcome is how the proxy disposed of a message.
type Outcome string

const (
	OutcomeForwarded  Outcome = "forwarded"
	OutcomeLocalReply Outcome = "local_reply"
	OutcomeDropped    Outcome = "dropped"
)

// DecisionRecord is a single entry of the decision log.
type DecisionRecord struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	StreamID      uint64        `json:"stream_id"`
	RequestID     int64         `json:"request_id"`
	Service       string        `json:"service,omitempty"`
	Method        string        `json:"method,omitempty"`
	RemoteAddress string        `json:"remote_address,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	ResponseFlags string        `json:"response_flags"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}
