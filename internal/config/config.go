package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds the listeners of fnbridge serve
type DaemonConfig struct {
	// Listen is the socket agent address: unix:///path.sock, tcp://host:port
	// or vsock://port. Empty disables the socket agent.
	Listen      string `json:"listen" yaml:"listen"`
	GRPCAddr    string `json:"grpc_addr" yaml:"grpc_addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`

	// InvocationLog is an optional file receiving one JSON record per call.
	InvocationLog string `json:"invocation_log" yaml:"invocation_log"`
}

// LoaderConfig holds code loading settings
type LoaderConfig struct {
	// FetchDir caches bundles downloaded from the object store.
	FetchDir      string `json:"fetch_dir" yaml:"fetch_dir"`
	EnablePlugins bool   `json:"enable_plugins" yaml:"enable_plugins"`
}

// ObjectStoreConfig holds settings for s3:// code paths
type ObjectStoreConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`

	// UseAWSChain resolves credentials through the AWS default chain
	// (environment, shared config, instance role) when no static keys are set.
	UseAWSChain bool `json:"use_aws_chain" yaml:"use_aws_chain"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Exporter   string  `json:"exporter" yaml:"exporter"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Daemon      DaemonConfig      `json:"daemon" yaml:"daemon"`
	Loader      LoaderConfig      `json:"loader" yaml:"loader"`
	ObjectStore ObjectStoreConfig `json:"objectstore" yaml:"objectstore"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Listen:    "unix:///tmp/fnbridge.sock",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Loader: LoaderConfig{
			FetchDir:      filepath.Join(os.TempDir(), "fnbridge-fetch"),
			EnablePlugins: true,
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Tracing: TracingConfig{
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. JSON files are
// accepted as well since YAML is a superset.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FNBRIDGE_LISTEN"); v != "" {
		cfg.Daemon.Listen = v
	}
	if v := os.Getenv("FNBRIDGE_GRPC_ADDR"); v != "" {
		cfg.Daemon.GRPCAddr = v
	}
	if v := os.Getenv("FNBRIDGE_METRICS_ADDR"); v != "" {
		cfg.Daemon.MetricsAddr = v
	}
	if v := os.Getenv("FNBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("FNBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("FNBRIDGE_INVOCATION_LOG"); v != "" {
		cfg.Daemon.InvocationLog = v
	}
	if v := os.Getenv("FNBRIDGE_FETCH_DIR"); v != "" {
		cfg.Loader.FetchDir = v
	}
	if v := os.Getenv("FNBRIDGE_S3_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
		cfg.ObjectStore.Enabled = true
	}
	if v := os.Getenv("FNBRIDGE_S3_REGION"); v != "" {
		cfg.ObjectStore.Region = v
	}
	if v := os.Getenv("FNBRIDGE_S3_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("FNBRIDGE_S3_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("FNBRIDGE_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ObjectStore.UseSSL = b
		}
	}
	if v := os.Getenv("FNBRIDGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("FNBRIDGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FNBRIDGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("FNBRIDGE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("FNBRIDGE_TRACE_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.Daemon.Listen == "" && c.Daemon.GRPCAddr == "" {
		return fmt.Errorf("daemon: at least one of listen or grpc_addr is required")
	}
	if c.ObjectStore.Enabled && c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("objectstore: endpoint is required when enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}
	return nil
}
