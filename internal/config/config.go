package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/quotaguard/internal/policy"
	"github.com/tkingovr/quotaguard/internal/ratelimit"
	"github.com/tkingovr/quotaguard/internal/router"
	"github.com/tkingovr/quotaguard/internal/upstream"
)

// File is the on-disk configuration.
type File struct {
	Version   int                      `yaml:"version"`
	Settings  Settings                 `yaml:"settings"`
	RateLimit RateLimitSettings        `yaml:"rate_limit"`
	Clusters  []upstream.ClusterConfig `yaml:"clusters"`
	Routes    []router.RouteConfig     `yaml:"routes"`
}

// Settings holds process-wide settings.
type Settings struct {
	LocalCluster string `yaml:"local_cluster,omitempty"`
	LogDir       string `yaml:"log_dir,omitempty"`
	MetricsAddr  string `yaml:"metrics_addr,omitempty"`
	RuntimeFile  string `yaml:"runtime_file,omitempty"`
}

// RateLimitSettings configures the rate limit filter.
type RateLimitSettings struct {
	Domain          string        `yaml:"domain,omitempty"`
	Stage           uint32        `yaml:"stage,omitempty"`
	FailureModeDeny bool          `yaml:"failure_mode_deny,omitempty"`
	Timeout         string        `yaml:"timeout,omitempty"`
	Service         ServiceConfig `yaml:"service"`
}

// ServiceConfig selects and configures the quota service.
type ServiceConfig struct {
	Backend string                  `yaml:"backend,omitempty"`
	Redis   ratelimit.RedisConfig   `yaml:"redis,omitempty"`
	Limits  []ratelimit.LimitConfig `yaml:"limits,omitempty"`
}

// Config is the validated runtime configuration.
type Config struct {
	File *File
	Path string

	LocalCluster string
	LogDir       string
	MetricsAddr  string
	RuntimeFile  string

	Domain           string
	Stage            uint32
	FailureModeAllow bool
	Timeout          time.Duration
	Backend          string
	Redis            ratelimit.RedisConfig

	Router   *router.ConfigRouter
	Clusters []upstream.ClusterConfig
	Limits   *ratelimit.LimitTable
}

// Load reads a YAML config file and produces a runtime Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes parses YAML data and produces a runtime Config.
func LoadBytes(data []byte) (*Config, error) {
	cfg, err := parse(data, "")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte, path string) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return fromFile(&f, path)
}

func fromFile(f *File, path string) (*Config, error) {
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported config version %d", f.Version)
	}

	cfg := &Config{
		File:             f,
		Path:             path,
		LocalCluster:     f.Settings.LocalCluster,
		MetricsAddr:      f.Settings.MetricsAddr,
		Domain:           f.RateLimit.Domain,
		Stage:            f.RateLimit.Stage,
		FailureModeAllow: !f.RateLimit.FailureModeDeny,
		Backend:          f.RateLimit.Service.Backend,
		Redis:            f.RateLimit.Service.Redis,
		Clusters:         f.Clusters,
	}

	if cfg.LocalCluster == "" {
		cfg.LocalCluster = DefaultLocalCluster
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}

	// Log directory
	cfg.LogDir = f.Settings.LogDir
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
	cfg.LogDir = expandHome(cfg.LogDir)

	// Runtime flags resolve relative to the config file.
	if rf := f.Settings.RuntimeFile; rf != "" {
		rf = expandHome(rf)
		if !filepath.IsAbs(rf) && path != "" {
			rf = filepath.Join(filepath.Dir(path), rf)
		}
		cfg.RuntimeFile = rf
	}

	if f.RateLimit.Timeout != "" {
		d, err := time.ParseDuration(f.RateLimit.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit.timeout %q: %w", f.RateLimit.Timeout, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("rate_limit.timeout must not be negative")
		}
		cfg.Timeout = d
	} else {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Stage > policy.MaxStage {
		return nil, fmt.Errorf("rate_limit.stage %d exceeds max stage %d", cfg.Stage, policy.MaxStage)
	}

	if err := cfg.validateService(); err != nil {
		return nil, err
	}

	limits, err := ratelimit.NewLimitTable(f.RateLimit.Service.Limits)
	if err != nil {
		return nil, fmt.Errorf("rate_limit.service: %w", err)
	}
	cfg.Limits = limits

	if err := validateRoutes(f); err != nil {
		return nil, err
	}
	r, err := router.New(f.Routes)
	if err != nil {
		return nil, err
	}
	cfg.Router = r

	return cfg, nil
}

func (c *Config) validateService() error {
	switch c.Backend {
	case "":
		c.Backend = BackendLocal
	case BackendLocal:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.service.redis.addr is required for the redis backend")
		}
		if c.Redis.Prefix == "" {
			c.Redis.Prefix = DefaultRedisPrefix
		}
	default:
		return fmt.Errorf("unknown rate_limit.service.backend %q", c.Backend)
	}
	return nil
}

func validateRoutes(f *File) error {
	known := make(map[string]bool, len(f.Clusters))
	for _, c := range f.Clusters {
		known[c.Name] = true
	}
	for i, r := range f.Routes {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("routes[%d]", i)
		}
		if r.Route.Cluster != "" && !known[r.Route.Cluster] {
			return fmt.Errorf("route %q: unknown cluster %q", name, r.Route.Cluster)
		}
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfig returns a config with defaults for when no config file is
// given. Without routes nothing is rate limited.
func DefaultConfig() *Config {
	cfg, err := fromFile(&File{Version: 1}, "")
	if err != nil {
		panic(err)
	}
	return cfg
}

// MarshalYAML serializes the configuration for display/export.
func (c *Config) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(c.File)
}
