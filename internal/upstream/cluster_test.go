package upstream

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkingovr/quotaguard/internal/stats"
)

func newTestStore(t *testing.T) *stats.Store {
	t.Helper()
	s, err := stats.NewStore(prometheus.NewRegistry(), "test")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestManager_Lookup(t *testing.T) {
	m, err := NewManager(newTestStore(t), []ClusterConfig{{Name: "users"}})
	if err != nil {
		t.Fatal(err)
	}
	c := m.Cluster("users")
	if c == nil {
		t.Fatal("expected cluster users")
	}
	if c.Stats == nil {
		t.Error("expected a stats scope")
	}
	if m.Cluster("orders") != nil {
		t.Error("expected nil for unknown cluster")
	}
}

func TestManager_Validation(t *testing.T) {
	if _, err := NewManager(newTestStore(t), []ClusterConfig{{}}); err == nil {
		t.Error("expected error for unnamed cluster")
	}
	if _, err := NewManager(newTestStore(t), []ClusterConfig{{Name: "a"}, {Name: "a"}}); err == nil {
		t.Error("expected error for duplicate cluster")
	}
}
