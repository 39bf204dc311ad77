package audit

import (
	"context"

	"github.com/tkingovr/quotaguard/api"
)

// Store defines the interface for decision record persistence.
type Store interface {
	// Write appends a decision record.
	Write(ctx context.Context, record *api.DecisionRecord) error

	// Close shuts down the store and flushes any buffers.
	Close() error
}

// Discard is a Store that drops every record.
var Discard Store = discard{}

type discard struct{}

func (discard) Write(context.Context, *api.DecisionRecord) error { return nil }
func (discard) Close() error                                     { return nil }
