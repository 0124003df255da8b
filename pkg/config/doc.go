// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads BEACON_* environment variables with defaults for every
// setting. If BEACON_CONFIG_FILE names a YAML file, its non-empty fields are
// applied on top before validation.
//
// # Configuration Structure
//
// Server settings:
//
//	BEACON_HOST="0.0.0.0"
//	BEACON_PORT="8080"
//	BEACON_HEALTH_PORT="9090"
//	BEACON_READ_TIMEOUT="15s"
//	BEACON_WRITE_TIMEOUT="60s"
//
// Cache settings:
//
//	BEACON_CACHE_BACKEND="redis"  # memory, sqlite, postgres, redis
//	BEACON_CACHE_MEMORY_SIZE="10000"
//	BEACON_SQLITE_PATH="/var/lib/beacon/metrics.db"
//	BEACON_CACHE_POSTGRES_URL="postgres://localhost/beacon"
//	BEACON_REDIS_URL="redis://localhost:6379"
//	BEACON_REDIS_KEY_PREFIX="beacon:metric:"
//
// Event store settings:
//
//	BEACON_EVENTS_POSTGRES_URL="postgres://localhost/app"
//	BEACON_EVENTS_POSTGRES_MAX_CONNS="20"
//
// Scheduler settings:
//
//	BEACON_SCHEDULER_ENABLED="false"
//	BEACON_SCHEDULER_WORKERS="8"
//	BEACON_TIER_FAST_SCHEDULE="*/15 * * * *"
//	BEACON_TIER_MEDIUM_TTL="70m"
//	BEACON_TIER_SLOW_TIMEOUT="2m"
//
// Observability settings:
//
//	BEACON_LOG_LEVEL="info"  # debug, info, warn, error
//	BEACON_METRICS_ENABLED="true"
//	BEACON_OTEL_ENABLED="true"
//	BEACON_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in a file:
//
//	cache:
//	  backend: redis
//	  redis_url: redis://cache:6379
//	scheduler:
//	  workers: 16
//	  tiers:
//	    slow:
//	      schedule: "0 */4 * * *"
//	      ttl: 240m
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	tiers, err := cfg.Scheduler.ApplyTo(scheduler.DefaultTiers())
//
// # Related Packages
//
//   - pkg/metriccache: Uses cache configuration
//   - pkg/scheduler: Tier defaults the overrides apply to
//   - pkg/observability: Uses observability configuration
package config
