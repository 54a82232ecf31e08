package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address" env:"NESTS_SERVER_ADDRESS"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" env:"NESTS_LOG_LEVEL"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" env:"NESTS_REDIS_ENABLED"`
		Address  string `yaml:"address" env:"NESTS_REDIS_ADDRESS"`
		Password string `yaml:"password" env:"NESTS_REDIS_PASSWORD"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	LiveKit struct {
		URL              string        `yaml:"url" env:"NESTS_LIVEKIT_URL"`
		APIKey           string        `yaml:"api_key" env:"NESTS_LIVEKIT_API_KEY"`
		APISecret        string        `yaml:"api_secret" env:"NESTS_LIVEKIT_API_SECRET"`
		MaxParticipants  uint32        `yaml:"max_participants"`
		EmptyTimeout     time.Duration `yaml:"empty_timeout"`
		DepartureTimeout time.Duration `yaml:"departure_timeout"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		// Circuit breaker around the room service
		BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
	} `yaml:"livekit"`

	Auth struct {
		// NIP-98 creation-time tolerance, applied in both directions
		Window time.Duration `yaml:"window"`
	} `yaml:"auth"`

	Directory struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"directory"`

	Restart struct {
		GraceDelay  time.Duration `yaml:"grace_delay" env:"NESTS_RESTART_GRACE_DELAY"`
		MaxAttempts int           `yaml:"max_attempts"`
		LockTTL     time.Duration `yaml:"lock_ttl"`
	} `yaml:"restart"`

	Events struct {
		Source       string        `yaml:"source" env:"NESTS_EVENTS_SOURCE"` // "store" or "relays"
		Relays       []string      `yaml:"relays" env:"NESTS_EVENTS_RELAYS" envSeparator:","`
		QueryTimeout time.Duration `yaml:"query_timeout"`
		MaxAge       time.Duration `yaml:"max_age"`
		StoreTTL     time.Duration `yaml:"store_ttl"`
		// Room relays are owner-supplied; by default only public wss
		// endpoints are dialled.
		AllowInsecureRelays bool `yaml:"allow_insecure_relays" env:"NESTS_EVENTS_ALLOW_INSECURE_RELAYS"`
		AllowPrivateRelays  bool `yaml:"allow_private_relays" env:"NESTS_EVENTS_ALLOW_PRIVATE_RELAYS"`
	} `yaml:"events"`

	Public struct {
		HLSBaseURL string `yaml:"hls_base_url" env:"NESTS_HLS_BASE_URL"`
	} `yaml:"public"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled" env:"NESTS_TRACING_ENABLED"`
		JaegerURL   string  `yaml:"jaeger_url" env:"NESTS_TRACING_JAEGER_URL"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled" env:"NESTS_RATE_LIMITING_ENABLED"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.LiveKit.URL == "" {
		return fmt.Errorf("livekit.url must not be empty")
	}
	if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		return fmt.Errorf("livekit.api_key and livekit.api_secret must be set")
	}
	if c.LiveKit.MaxParticipants == 0 {
		return fmt.Errorf("livekit.max_participants must be > 0")
	}
	if c.LiveKit.EmptyTimeout <= 0 {
		return fmt.Errorf("livekit.empty_timeout must be > 0")
	}
	if c.LiveKit.DepartureTimeout <= 0 {
		return fmt.Errorf("livekit.departure_timeout must be > 0")
	}
	if c.LiveKit.RequestTimeout <= 0 {
		return fmt.Errorf("livekit.request_timeout must be > 0")
	}
	if c.LiveKit.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("livekit.breaker_failure_threshold must be > 0")
	}

	if c.Auth.Window <= 0 {
		return fmt.Errorf("auth.window must be > 0")
	}
	if c.Directory.TTL <= 0 {
		return fmt.Errorf("directory.ttl must be > 0")
	}
	if c.Restart.GraceDelay < 0 {
		return fmt.Errorf("restart.grace_delay must be >= 0")
	}
	if c.Restart.MaxAttempts < 1 {
		return fmt.Errorf("restart.max_attempts must be >= 1")
	}
	if c.Restart.LockTTL <= 0 {
		return fmt.Errorf("restart.lock_ttl must be > 0")
	}

	switch c.Events.Source {
	case "store":
	case "relays":
		if len(c.Events.Relays) == 0 {
			return fmt.Errorf("events.relays must not be empty when events.source=relays")
		}
	default:
		return fmt.Errorf("events.source must be one of: store, relays")
	}
	if c.Events.QueryTimeout <= 0 {
		return fmt.Errorf("events.query_timeout must be > 0")
	}
	if c.Events.StoreTTL <= 0 {
		return fmt.Errorf("events.store_ttl must be > 0")
	}
	if c.Events.MaxAge < 0 {
		return fmt.Errorf("events.max_age must be >= 0")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseEnv overlays NESTS_* environment variables onto target.
// Unset variables leave the current value in place.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.LiveKit.URL = "ws://localhost:7880"
	cfg.LiveKit.APIKey = "devkey"
	cfg.LiveKit.APISecret = "secret"
	cfg.LiveKit.MaxParticipants = 500
	cfg.LiveKit.EmptyTimeout = 30 * time.Minute
	cfg.LiveKit.DepartureTimeout = time.Minute
	cfg.LiveKit.RequestTimeout = 10 * time.Second
	cfg.LiveKit.BreakerFailureThreshold = 5
	cfg.LiveKit.BreakerOpenTimeout = 30 * time.Second

	cfg.Auth.Window = 60 * time.Second

	cfg.Directory.TTL = 24 * time.Hour

	cfg.Restart.GraceDelay = 2 * time.Second
	cfg.Restart.MaxAttempts = 1
	cfg.Restart.LockTTL = 30 * time.Second

	cfg.Events.Source = "store"
	cfg.Events.QueryTimeout = 5 * time.Second
	cfg.Events.MaxAge = 24 * time.Hour
	cfg.Events.StoreTTL = 24 * time.Hour

	cfg.Public.HLSBaseURL = "https://nostrnests.com/api/v1/live"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}
