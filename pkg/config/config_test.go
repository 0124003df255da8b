package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "one", envValue: "1", want: true},
		{name: "upper case", envValue: "TRUE", want: true},
		{name: "false", envValue: "false", defaultValue: true, want: false},
		{name: "garbage is false", envValue: "yes please", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "ninety")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DURATION", time.Second))
}

// TestLoadServerConfig tests the loadServerConfig function
func TestLoadServerConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ServerConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ServerConfig{
				Host:            "0.0.0.0",
				Port:            "8080",
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    60 * time.Second,
				IdleTimeout:     60 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				HealthPort:      "9090",
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"BEACON_HOST":             "localhost",
				"BEACON_PORT":             "3000",
				"BEACON_READ_TIMEOUT":     "30s",
				"BEACON_WRITE_TIMEOUT":    "30s",
				"BEACON_IDLE_TIMEOUT":     "120s",
				"BEACON_SHUTDOWN_TIMEOUT": "60s",
				"BEACON_HEALTH_PORT":      "9091",
			},
			want: ServerConfig{
				Host:            "localhost",
				Port:            "3000",
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 60 * time.Second,
				HealthPort:      "9091",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			assert.Equal(t, tt.want, loadServerConfig())
		})
	}
}

// TestLoadCacheConfig tests the loadCacheConfig function
func TestLoadCacheConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		assert.Equal(t, metriccache.DefaultConfig(), loadCacheConfig())
	})

	t.Run("redis", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BEACON_CACHE_BACKEND", "Redis")
		t.Setenv("BEACON_REDIS_URL", "redis://cache:6379")
		t.Setenv("BEACON_REDIS_DB", "0")
		t.Setenv("BEACON_REDIS_POOL_SIZE", "32")
		t.Setenv("BEACON_REDIS_KEY_PREFIX", "staging:metric:")

		cfg := loadCacheConfig()
		assert.Equal(t, metriccache.BackendRedis, cfg.Backend)
		assert.Equal(t, "redis://cache:6379", cfg.RedisURL)
		assert.Equal(t, 0, cfg.RedisDB)
		assert.Equal(t, 32, cfg.RedisPoolSize)
		assert.Equal(t, "staging:metric:", cfg.RedisKeyPrefix)
		assert.Equal(t, 3, cfg.RedisMaxRetries)
	})

	t.Run("postgres", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BEACON_CACHE_BACKEND", "postgres")
		t.Setenv("BEACON_CACHE_POSTGRES_URL", "postgres://localhost/beacon")
		t.Setenv("BEACON_CACHE_POSTGRES_MAX_CONNS", "50")
		t.Setenv("BEACON_CACHE_POSTGRES_TIMEOUT", "3s")

		cfg := loadCacheConfig()
		assert.Equal(t, "postgres://localhost/beacon", cfg.PostgresURL)
		assert.Equal(t, 50, cfg.PostgresMaxConns)
		assert.Equal(t, 2, cfg.PostgresMinConns)
		assert.Equal(t, 3*time.Second, cfg.PostgresTimeout)
	})
}

// TestLoadSchedulerConfig tests tier overrides from the environment
func TestLoadSchedulerConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_SCHEDULER_ENABLED", "true")
	t.Setenv("BEACON_SCHEDULER_WORKERS", "4")
	t.Setenv("BEACON_TIER_FAST_SCHEDULE", "*/5 * * * *")
	t.Setenv("BEACON_TIER_SLOW_TTL", "12h")

	cfg := loadSchedulerConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, map[string]TierOverride{
		scheduler.TierFast: {Schedule: "*/5 * * * *"},
		scheduler.TierSlow: {TTL: 12 * time.Hour},
	}, cfg.Tiers)

	tiers, err := cfg.ApplyTo(scheduler.DefaultTiers())
	require.NoError(t, err)
	fast, _ := tiers.Get(scheduler.TierFast)
	assert.Equal(t, "*/5 * * * *", fast.Schedule)
	assert.Equal(t, 20*time.Minute, fast.TTL)
	slow, _ := tiers.Get(scheduler.TierSlow)
	assert.Equal(t, 12*time.Hour, slow.TTL)
	assert.Equal(t, "0 */6 * * *", slow.Schedule)

	// the defaults are untouched
	orig, _ := scheduler.DefaultTiers().Get(scheduler.TierFast)
	assert.Equal(t, "*/15 * * * *", orig.Schedule)
}

func TestSchedulerConfig_ApplyToUnknownTier(t *testing.T) {
	cfg := SchedulerConfig{Tiers: map[string]TierOverride{"hourly": {TTL: time.Hour}}}
	_, err := cfg.ApplyTo(scheduler.DefaultTiers())
	assert.ErrorContains(t, err, `unknown tier "hourly"`)
}

// TestLoadObservabilityConfig tests the loadObservabilityConfig function
func TestLoadObservabilityConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_LOG_LEVEL", "warning")
	t.Setenv("BEACON_OTEL_ENABLED", "1")
	t.Setenv("BEACON_OTEL_SAMPLE_RATIO", "0.1")

	cfg := loadObservabilityConfig()
	assert.Equal(t, observability.WarnLevel, cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.True(t, cfg.OTelEnabled)

	otel := cfg.OTel()
	assert.Equal(t, "beacon", otel.ServiceName)
	assert.Equal(t, "localhost:4317", otel.Endpoint)
	assert.Equal(t, 0.1, otel.SampleRatio)
}

func validConfig() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Cache:         metriccache.DefaultConfig(),
		EventStore:    EventStoreConfig{},
		Scheduler:     SchedulerConfig{Workers: scheduler.DefaultWorkers},
		Observability: ObservabilityConfig{OTelServiceName: "beacon", OTelEndpoint: "localhost:4317"},
	}
}

// TestConfigValidate tests the Validate method
func TestConfigValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Backend = metriccache.BackendRedis },
			wantErr: "redis URL is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "invalid cache backend",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Scheduler.Workers = 0 },
			wantErr: "workers must be positive",
		},
		{
			name: "bad tier override",
			mutate: func(c *Config) {
				c.Scheduler.Tiers = map[string]TierOverride{"weekly": {Schedule: "@weekly"}}
			},
			wantErr: "invalid tier configuration",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_REDIS_URL", "redis://from-env:6379")
	cfg := validConfig()
	cfg.Cache = loadCacheConfig()
	cfg.Scheduler = loadSchedulerConfig()

	err := cfg.applyYAML([]byte(`
cache:
  backend: redis
  redis_db: 2
scheduler:
  enabled: true
  workers: 16
  tiers:
    medium:
      ttl: 90m
      timeout: 45s
observability:
  log_level: debug
  metrics_enabled: false
`))
	require.NoError(t, err)

	assert.Equal(t, metriccache.BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis://from-env:6379", cfg.Cache.RedisURL)
	assert.Equal(t, 2, cfg.Cache.RedisDB)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 16, cfg.Scheduler.Workers)
	assert.Equal(t, TierOverride{TTL: 90 * time.Minute, Timeout: 45 * time.Second}, cfg.Scheduler.Tiers[scheduler.TierMedium])
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
	require.NoError(t, cfg.Validate())
}

func TestApplyYAML_Malformed(t *testing.T) {
	cfg := validConfig()
	err := cfg.applyYAML([]byte("scheduler: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	t.Run("environment only", func(t *testing.T) {
		clearEnv(t)
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, metriccache.BackendMemory, cfg.Cache.Backend)
		assert.False(t, cfg.Scheduler.Enabled)
	})

	t.Run("same ports", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BEACON_PORT", "8080")
		t.Setenv("BEACON_HEALTH_PORT", "8080")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "configuration validation failed")
	})

	t.Run("file overlay", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "beacon.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: sqlite\n  sqlite_path: /var/lib/beacon/metrics.db\n"), 0o600))
		t.Setenv("BEACON_CONFIG_FILE", path)

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, metriccache.BackendSQLite, cfg.Cache.Backend)
		assert.Equal(t, "/var/lib/beacon/metrics.db", cfg.Cache.SQLitePath)
	})

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BEACON_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

// clearEnv unsets every BEACON_ variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "BEACON_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}
