package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes YAML strings like "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(nanos)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the core configuration.
type Config struct {
	// NodeID identifies this control-plane node in the election cluster.
	NodeID string `yaml:"node_id"`

	// BindAddr is the Raft bind address.
	BindAddr string `yaml:"bind_addr"`

	// DataDir holds the repositories and Raft state.
	DataDir string `yaml:"data_dir"`

	// MetricsAddr serves Prometheus metrics; empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// MaxVersions is how many versions to retain per run-spec.
	MaxVersions int `yaml:"max_versions"`

	// MaxRootVersions is how many root group versions to retain.
	MaxRootVersions int `yaml:"max_root_versions"`

	// GCInterval drives periodic garbage collection; zero disables the
	// timer and leaves collection on demand only.
	GCInterval Duration `yaml:"gc_interval"`

	// KillChunkSize caps concurrent in-flight kill requests.
	KillChunkSize int `yaml:"kill_chunk_size"`

	// KillRetryTimeout is how long to wait before re-issuing a kill.
	KillRetryTimeout Duration `yaml:"kill_retry_timeout"`

	// MesosRole is the default resource role for run-specs that declare
	// none. It is loaded from the config file, but no component in this
	// repository reads it.
	MesosRole string `yaml:"mesos_role"`

	// FrameworkName is the framework name for the offer layer. It is loaded
	// from the config file, but no component in this repository reads it.
	FrameworkName string `yaml:"framework_name"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		NodeID:           "stride-1",
		BindAddr:         "127.0.0.1:7300",
		DataDir:          "/var/lib/stride",
		MetricsAddr:      ":9090",
		MaxVersions:      50,
		MaxRootVersions:  25,
		GCInterval:       Duration(30 * time.Minute),
		KillChunkSize:    5,
		KillRetryTimeout: Duration(10 * time.Minute),
		MesosRole:        "*",
		FrameworkName:    "stride",
		LogLevel:         "info",
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.MaxVersions <= 0 {
		return fmt.Errorf("max_versions must be positive, got %d", c.MaxVersions)
	}
	if c.MaxRootVersions <= 0 {
		return fmt.Errorf("max_root_versions must be positive, got %d", c.MaxRootVersions)
	}
	if c.KillChunkSize <= 0 {
		return fmt.Errorf("kill_chunk_size must be positive, got %d", c.KillChunkSize)
	}
	if c.KillRetryTimeout <= 0 {
		return fmt.Errorf("kill_retry_timeout must be positive, got %s", c.KillRetryTimeout.Std())
	}
	return nil
}
