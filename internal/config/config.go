// Package config loads reactor configuration from environment variables,
// with sensible defaults for every tunable named in the reactor's
// operating model.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the top-level reactor configuration.
type Config struct {
	Reactor ReactorConfig
	Gateway GatewayConfig
	Engine  EngineConfig
	Router  RouterConfig
	Health  HealthConfig
	Logging LoggingConfig
	Redis   RedisConfig
}

// ReactorConfig identifies this reactor process.
type ReactorConfig struct {
	ID             string `env:"REACTOR_ID"`
	Group          string `env:"REACTOR_GROUP"`
	Specialization string `env:"REACTOR_SPECIALIZATION"`
}

// GatewayConfig controls the binary-protocol front-end and optional HTTP
// introspection endpoints.
type GatewayConfig struct {
	Port              int `env:"PORT"`
	HTTPPort          int `env:"GATEWAY_HTTP_PORT"`
	BackpressureRPS   int `env:"GATEWAY_BACKPRESSURE_RPS"`
	BackpressureBurst int `env:"GATEWAY_BACKPRESSURE_BURST"`
	MaxInFlight       int `env:"GATEWAY_MAX_IN_FLIGHT"`
	MaxFrameBytes     int `env:"GATEWAY_MAX_FRAME_BYTES"`
}

// EngineConfig controls the execution engine.
type EngineConfig struct {
	ConcurrencyCeiling int           `env:"ENGINE_CONCURRENCY_CEILING"`
	CallDepthLimit     int           `env:"ENGINE_CALL_DEPTH_LIMIT"`
	DefaultTimeout     time.Duration `env:"ENGINE_DEFAULT_TIMEOUT"`
}

// RouterConfig controls routing/affinity behavior.
type RouterConfig struct {
	LoadThreshold       float64 `env:"ROUTER_LOAD_THRESHOLD"`
	DegradedHealthBonus float64 `env:"ROUTER_DEGRADED_HEALTH_BONUS"`
}

// HealthConfig controls the health tracker's ping loop.
type HealthConfig struct {
	Interval         time.Duration `env:"HEALTH_PING_INTERVAL"`
	Deadline         time.Duration `env:"HEALTH_PING_DEADLINE"`
	FailureThreshold int           `env:"HEALTH_FAILURE_THRESHOLD"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

// RedisConfig controls the optional descriptor-broadcast pub/sub. Empty
// Addr disables broadcast and the router falls back to local-only state.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		Reactor: ReactorConfig{
			ID:    "reactor-local",
			Group: "cf",
		},
		Gateway: GatewayConfig{
			Port:              9090,
			HTTPPort:          9091,
			BackpressureRPS:   500,
			BackpressureBurst: 100,
			MaxInFlight:       256,
			MaxFrameBytes:     4 << 20,
		},
		Engine: EngineConfig{
			ConcurrencyCeiling: 1000,
			CallDepthLimit:     32,
			DefaultTimeout:     30 * time.Second,
		},
		Router: RouterConfig{
			LoadThreshold:       0.95,
			DegradedHealthBonus: 0.5,
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			Deadline:         5 * time.Second,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a .env file (if present) then applies environment overrides
// onto the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the reactor assumes hold.
func (c *Config) Validate() error {
	if c.Reactor.ID == "" {
		return fmt.Errorf("config: REACTOR_ID must not be empty")
	}
	if c.Engine.ConcurrencyCeiling <= 0 {
		return fmt.Errorf("config: ENGINE_CONCURRENCY_CEILING must be positive")
	}
	if c.Engine.CallDepthLimit <= 0 {
		return fmt.Errorf("config: ENGINE_CALL_DEPTH_LIMIT must be positive")
	}
	if c.Router.LoadThreshold <= 0 || c.Router.LoadThreshold > 1 {
		return fmt.Errorf("config: ROUTER_LOAD_THRESHOLD must be in (0,1]")
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("config: HEALTH_FAILURE_THRESHOLD must be positive")
	}
	return nil
}

// RedisEnabled reports whether descriptor broadcast over Redis is
// configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}
