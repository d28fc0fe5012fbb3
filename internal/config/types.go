package config

import "time"

// Config holds all configuration for the gateway.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Engineering    EngineeringConfig    `yaml:"engineering"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
	TrustedCIDRs      []string      `yaml:"trusted_cidrs"`
}

// RedisConfig holds the shared-store connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UpstreamConfig holds the single upstream this gateway fronts.
type UpstreamConfig struct {
	URL               string        `yaml:"url"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
}

// RateLimitConfig holds the shared token bucket parameters.
type RateLimitConfig struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

// CircuitBreakerConfig holds the shared breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold         int `yaml:"failure_threshold"`
	ResetTimeoutSeconds      int `yaml:"reset_timeout_seconds"`
	HalfOpenSuccessThreshold int `yaml:"half_open_success_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Theme      string `yaml:"theme"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
