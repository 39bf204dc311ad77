package envelope

import (
	"encoding/json"
	"fmt"
)

// Parse decodes one framed line.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.IsCall() && (env.Service == "" || env.Method == "") {
		return nil, fmt.Errorf("invalid envelope: service and method are required")
	}
	return &env, nil
}

// ParseID recovers the request id of a line that failed to parse, so the
// caller can still answer it.
func ParseID(data []byte) (int64, bool) {
	var partial struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || partial.ID == nil {
		return 0, false
	}
	return *partial.ID, true
}
