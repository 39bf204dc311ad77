package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing stat. Implementations are safe for
// concurrent use.
type Counter interface {
	Inc()
}

// Scope hands out named counters under a common prefix.
type Scope interface {
	Counter(name string) Counter
}

// Store keeps every scope's counters in one labelled prometheus vector.
type Store struct {
	counters *prometheus.CounterVec
}

// NewStore registers the counter vector with reg.
func NewStore(reg prometheus.Registerer, namespace string) (*Store, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_total",
		Help:      "Proxy counters by scope and stat name.",
	}, []string{"scope", "stat"})
	if err := reg.Register(vec); err != nil {
		return nil, fmt.Errorf("registering stats: %w", err)
	}
	return &Store{counters: vec}, nil
}

// Scope returns the scope with the given name, e.g. "cluster.users".
func (s *Store) Scope(name string) Scope {
	return &scope{vec: s.counters, name: name}
}

type scope struct {
	vec  *prometheus.CounterVec
	name string
}

func (s *scope) Counter(name string) Counter {
	return s.vec.WithLabelValues(s.name, name)
}
