package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when GRAYLIVE_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for Gray Logic Live.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Store     StoreConfig     `yaml:"store"`
	Manager   ManagerConfig   `yaml:"manager"`
	Adapters  []AdapterConfig `yaml:"adapters"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds. Write is not
// applied to the streaming endpoints.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// StoreConfig contains signal store settings.
type StoreConfig struct {
	// QueueSize is the per-subscriber queue depth.
	QueueSize int `yaml:"queue_size"`

	// DropWarnInterval is the minimum gap in seconds between "queue full"
	// warnings for one subscriber.
	DropWarnInterval int `yaml:"drop_warn_interval"`
}

// ManagerConfig contains adapter supervision settings, all in seconds.
type ManagerConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	FetchTimeout int `yaml:"fetch_timeout"`
	StopTimeout  int `yaml:"stop_timeout"`
}

// AdapterConfig describes one source adapter instance.
type AdapterConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Prefix   string            `yaml:"prefix"`
	URL      string            `yaml:"url"`
	Filter   string            `yaml:"filter"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Token    string            `yaml:"token"`
	Timeout  int               `yaml:"timeout"`
	Options  map[string]string `yaml:"options"`
}

// defaultPrefixes holds the signal prefix each adapter type uses when none
// is configured.
var defaultPrefixes = map[string]string{
	"openhab": "oh",
	"mqtt":    "mqtt",
	"nats-kv": "kv",
}

// EffectivePrefix returns the configured prefix, or the default prefix of
// the adapter type.
func (a AdapterConfig) EffectivePrefix() string {
	if a.Prefix != "" {
		return a.Prefix
	}
	if p, ok := defaultPrefixes[a.Type]; ok {
		return p
	}
	return a.Type
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the SQLite signal history recorder.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	PruneInterval int  `yaml:"prune_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLIVE_SECTION_KEY
// For example: GRAYLIVE_DATABASE_PATH, GRAYLIVE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Path returns the config file location from GRAYLIVE_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("GRAYLIVE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Store: StoreConfig{
			QueueSize:        256,
			DropWarnInterval: 10,
		},
		Manager: ManagerConfig{
			InitialDelay: 5,
			MaxDelay:     300,
			FetchTimeout: 30,
			StopTimeout:  10,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylive.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			RetentionDays: 7,
			PruneInterval: 3600,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLIVE_SECTION_KEY
//
// Adapter secrets are overridden per adapter:
// GRAYLIVE_ADAPTER_<NAME>_TOKEN and GRAYLIVE_ADAPTER_<NAME>_PASSWORD, where
// NAME is the adapter name upper-cased with "-" replaced by "_".
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLIVE_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	if v := os.Getenv("GRAYLIVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("GRAYLIVE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLIVE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLIVE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYLIVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	for i := range cfg.Adapters {
		a := &cfg.Adapters[i]
		key := "GRAYLIVE_ADAPTER_" + envName(a.Name)
		if v := os.Getenv(key + "_TOKEN"); v != "" {
			a.Token = v
		}
		if v := os.Getenv(key + "_PASSWORD"); v != "" {
			a.Password = v
		}
		if v := os.Getenv(key + "_URL"); v != "" {
			a.URL = v
		}
	}
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1) {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be at least 1")
	}

	if c.Store.QueueSize < 1 {
		errs = append(errs, "store.queue_size must be at least 1")
	}
	if c.Store.DropWarnInterval < 0 {
		errs = append(errs, "store.drop_warn_interval must not be negative")
	}

	if c.Manager.InitialDelay < 1 {
		errs = append(errs, "manager.initial_delay must be at least 1")
	}
	if c.Manager.MaxDelay < c.Manager.InitialDelay {
		errs = append(errs, "manager.max_delay must not be less than manager.initial_delay")
	}
	if c.Manager.FetchTimeout < 1 {
		errs = append(errs, "manager.fetch_timeout must be at least 1")
	}
	if c.Manager.StopTimeout < 1 {
		errs = append(errs, "manager.stop_timeout must be at least 1")
	}

	seen := make(map[string]bool, len(c.Adapters))
	prefixes := make(map[string]string, len(c.Adapters))
	for i, a := range c.Adapters {
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Sprintf("adapters[%d].name is required", i))
		case seen[a.Name]:
			errs = append(errs, fmt.Sprintf("adapters[%d].name %q is duplicated", i, a.Name))
		}
		seen[a.Name] = true

		if a.Type == "" {
			errs = append(errs, fmt.Sprintf("adapters[%d].type is required", i))
		}
		if prefix := a.EffectivePrefix(); prefix != "" {
			if owner, dup := prefixes[prefix]; dup {
				errs = append(errs, fmt.Sprintf("adapters[%d].prefix %q is duplicated (also used by %q)", i, prefix, owner))
			} else {
				prefixes[prefix] = a.Name
			}
		}
		if a.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("adapters[%d].timeout must not be negative", i))
		}
	}

	if c.History.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when history is enabled")
		}
		if c.History.RetentionDays < 1 {
			errs = append(errs, "history.retention_days must be at least 1")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a seconds field to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
