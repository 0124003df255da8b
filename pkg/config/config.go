package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Metric cache configuration
	Cache metriccache.Config

	// Event store configuration
	EventStore EventStoreConfig

	// Tier scheduling configuration
	Scheduler SchedulerConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// EventStoreConfig holds the connection to the tenant record store. An empty
// URL selects the in-memory store, which is only useful for local runs.
type EventStoreConfig struct {
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
}

// Postgres converts the settings for eventstore.OpenPostgres
func (c EventStoreConfig) Postgres() eventstore.PostgresConfig {
	return eventstore.PostgresConfig{
		URL:         c.PostgresURL,
		MaxConns:    c.PostgresMaxConns,
		MinConns:    c.PostgresMinConns,
		Timeout:     c.PostgresTimeout,
		MaxLifetime: c.PostgresMaxLifetime,
	}
}

// SchedulerConfig holds tier runner settings
type SchedulerConfig struct {
	// Enabled runs the cron scheduler inside the API server
	Enabled bool
	Workers int

	// Tier overrides keyed by tier name
	Tiers map[string]TierOverride
}

// TierOverride replaces the non-zero fields of a default tier
type TierOverride struct {
	Schedule string        `yaml:"schedule"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ApplyTo returns tiers with the overrides applied and validated
func (c SchedulerConfig) ApplyTo(tiers scheduler.Tiers) (scheduler.Tiers, error) {
	out := make(scheduler.Tiers, len(tiers))
	copy(out, tiers)

	for name, override := range c.Tiers {
		found := false
		for i := range out {
			if out[i].Name != name {
				continue
			}
			found = true
			if override.Schedule != "" {
				out[i].Schedule = override.Schedule
			}
			if override.TTL > 0 {
				out[i].TTL = override.TTL
			}
			if override.Timeout > 0 {
				out[i].Timeout = override.Timeout
			}
		}
		if !found {
			return nil, fmt.Errorf("override for unknown tier %q", name)
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitTracing
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables, then applies the
// YAML file named by BEACON_CONFIG_FILE if set
func LoadConfig() (*Config, error) {
	return load(getEnv("BEACON_CONFIG_FILE", ""))
}

// load builds the environment configuration and overlays the file at path
func load(path string) (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Cache:         loadCacheConfig(),
		EventStore:    loadEventStoreConfig(),
		Scheduler:     loadSchedulerConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BEACON_HOST", "0.0.0.0"),
		Port:            getEnv("BEACON_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BEACON_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BEACON_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("BEACON_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BEACON_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BEACON_HEALTH_PORT", "9090"),
	}
}

// loadCacheConfig loads metric cache configuration from environment
func loadCacheConfig() metriccache.Config {
	cfg := metriccache.DefaultConfig()

	if backend := getEnv("BEACON_CACHE_BACKEND", ""); backend != "" {
		cfg.Backend = strings.ToLower(backend)
	}

	// Memory config
	if size := getEnvInt("BEACON_CACHE_MEMORY_SIZE", 0); size > 0 {
		cfg.MemorySize = size
	}

	// SQLite config
	if path := getEnv("BEACON_SQLITE_PATH", ""); path != "" {
		cfg.SQLitePath = path
	}

	// PostgreSQL config
	if pgURL := getEnv("BEACON_CACHE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("BEACON_CACHE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("BEACON_CACHE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("BEACON_CACHE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("BEACON_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("BEACON_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("BEACON_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("BEACON_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("BEACON_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	if prefix := getEnv("BEACON_REDIS_KEY_PREFIX", ""); prefix != "" {
		cfg.RedisKeyPrefix = prefix
	}

	return cfg
}

// loadEventStoreConfig loads event store configuration from environment
func loadEventStoreConfig() EventStoreConfig {
	return EventStoreConfig{
		PostgresURL:         getEnv("BEACON_EVENTS_POSTGRES_URL", ""),
		PostgresMaxConns:    getEnvInt("BEACON_EVENTS_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("BEACON_EVENTS_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:     getEnvDuration("BEACON_EVENTS_POSTGRES_TIMEOUT", 10*time.Second),
		PostgresMaxLifetime: getEnvDuration("BEACON_EVENTS_POSTGRES_MAX_LIFETIME", 30*time.Minute),
	}
}

// loadSchedulerConfig loads scheduler configuration from environment
func loadSchedulerConfig() SchedulerConfig {
	cfg := SchedulerConfig{
		Enabled: getEnvBool("BEACON_SCHEDULER_ENABLED", false),
		Workers: getEnvInt("BEACON_SCHEDULER_WORKERS", scheduler.DefaultWorkers),
		Tiers:   map[string]TierOverride{},
	}

	for _, name := range []string{scheduler.TierFast, scheduler.TierMedium, scheduler.TierSlow} {
		prefix := "BEACON_TIER_" + strings.ToUpper(name) + "_"
		override := TierOverride{
			Schedule: getEnv(prefix+"SCHEDULE", ""),
			TTL:      getEnvDuration(prefix+"TTL", 0),
			Timeout:  getEnvDuration(prefix+"TIMEOUT", 0),
		}
		if override != (TierOverride{}) {
			cfg.Tiers[name] = override
		}
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("BEACON_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BEACON_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BEACON_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BEACON_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BEACON_OTEL_SERVICE_NAME", "beacon"),
		OTelServiceVersion: getEnv("BEACON_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BEACON_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BEACON_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// fileConfig is the YAML overlay. Unset fields keep their environment value.
type fileConfig struct {
	Server struct {
		Host       string `yaml:"host"`
		Port       string `yaml:"port"`
		HealthPort string `yaml:"health_port"`
	} `yaml:"server"`

	Cache struct {
		Backend     string `yaml:"backend"`
		MemorySize  int    `yaml:"memory_size"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
		RedisDB     *int   `yaml:"redis_db"`
		KeyPrefix   string `yaml:"redis_key_prefix"`
	} `yaml:"cache"`

	EventStore struct {
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int    `yaml:"max_conns"`
	} `yaml:"event_store"`

	Scheduler struct {
		Enabled *bool                   `yaml:"enabled"`
		Workers int                     `yaml:"workers"`
		Tiers   map[string]TierOverride `yaml:"tiers"`
	} `yaml:"scheduler"`

	Observability struct {
		LogLevel       string `yaml:"log_level"`
		MetricsEnabled *bool  `yaml:"metrics_enabled"`
		OTelEnabled    *bool  `yaml:"otel_enabled"`
		OTelEndpoint   string `yaml:"otel_endpoint"`
	} `yaml:"observability"`
}

// applyFile overlays the YAML file at path onto c
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.Server.Host, f.Server.Host)
	setString(&c.Server.Port, f.Server.Port)
	setString(&c.Server.HealthPort, f.Server.HealthPort)

	setString(&c.Cache.Backend, strings.ToLower(f.Cache.Backend))
	if f.Cache.MemorySize > 0 {
		c.Cache.MemorySize = f.Cache.MemorySize
	}
	setString(&c.Cache.SQLitePath, f.Cache.SQLitePath)
	setString(&c.Cache.PostgresURL, f.Cache.PostgresURL)
	setString(&c.Cache.RedisURL, f.Cache.RedisURL)
	if f.Cache.RedisDB != nil {
		c.Cache.RedisDB = *f.Cache.RedisDB
	}
	setString(&c.Cache.RedisKeyPrefix, f.Cache.KeyPrefix)

	setString(&c.EventStore.PostgresURL, f.EventStore.PostgresURL)
	if f.EventStore.MaxConns > 0 {
		c.EventStore.PostgresMaxConns = f.EventStore.MaxConns
	}

	if f.Scheduler.Enabled != nil {
		c.Scheduler.Enabled = *f.Scheduler.Enabled
	}
	if f.Scheduler.Workers > 0 {
		c.Scheduler.Workers = f.Scheduler.Workers
	}
	if len(f.Scheduler.Tiers) > 0 && c.Scheduler.Tiers == nil {
		c.Scheduler.Tiers = map[string]TierOverride{}
	}
	for name, override := range f.Scheduler.Tiers {
		merged := c.Scheduler.Tiers[name]
		setString(&merged.Schedule, override.Schedule)
		if override.TTL > 0 {
			merged.TTL = override.TTL
		}
		if override.Timeout > 0 {
			merged.Timeout = override.Timeout
		}
		c.Scheduler.Tiers[name] = merged
	}

	if f.Observability.LogLevel != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(f.Observability.LogLevel)
	}
	if f.Observability.MetricsEnabled != nil {
		c.Observability.MetricsEnabled = *f.Observability.MetricsEnabled
	}
	if f.Observability.OTelEnabled != nil {
		c.Observability.OTelEnabled = *f.Observability.OTelEnabled
	}
	setString(&c.Observability.OTelEndpoint, f.Observability.OTelEndpoint)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be positive")
	}
	if _, err := c.Scheduler.ApplyTo(scheduler.DefaultTiers()); err != nil {
		return fmt.Errorf("invalid tier configuration: %w", err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
