package config

import "time"

const (
	DefaultLocalCluster = "quotaguard"
	DefaultDomain       = "dubbo"
	DefaultTimeout      = 20 * time.Millisecond
	DefaultMetricsAddr  = "127.0.0.1:9102"
	DefaultRedisPrefix  = "quotaguard"
)

// Quota service backends.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// DefaultLogDir returns the default decision log directory path.
func DefaultLogDir() string {
	return "~/.quotaguard/logs"
}
