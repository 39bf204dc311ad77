package upstream

import (
	"fmt"

	"github.com/tkingovr/quotaguard/internal/stats"
)

// ClusterConfig configures a named upstream cluster.
type ClusterConfig struct {
	Name string `yaml:"name" json:"name"`
}

// ClusterInfo is the runtime information of a cluster.
type ClusterInfo struct {
	Name  string
	Stats stats.Scope
}

// ClusterManager looks up clusters by name.
type ClusterManager interface {
	// Cluster returns nil when the cluster is unknown.
	Cluster(name string) *ClusterInfo
}

// Manager is a static ClusterManager built from configuration.
type Manager struct {
	clusters map[string]*ClusterInfo
}

var _ ClusterManager = (*Manager)(nil)

// NewManager creates a cluster manager. Each cluster gets the stats scope
// "cluster.<name>".
func NewManager(store *stats.Store, cfgs []ClusterConfig) (*Manager, error) {
	m := &Manager{clusters: make(map[string]*ClusterInfo, len(cfgs))}
	for i, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("clusters[%d]: name is required", i)
		}
		if _, dup := m.clusters[cfg.Name]; dup {
			return nil, fmt.Errorf("cluster %q defined twice", cfg.Name)
		}
		m.clusters[cfg.Name] = &ClusterInfo{
			Name:  cfg.Name,
			Stats: store.Scope("cluster." + cfg.Name),
		}
	}
	return m, nil
}

func (m *Manager) Cluster(name string) *ClusterInfo {
	return m.clusters[name]
}
