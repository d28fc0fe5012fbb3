package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 5000
	DefaultHost = "0.0.0.0"

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, matching
// the gateway's environment variable table.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Host: "redis",
			Port: 6379,
			DB:   0,
		},
		Upstream: UpstreamConfig{
			URL:               "http://upstream-service:5001",
			ConnectionTimeout: 5 * time.Second,
			ResponseTimeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity:   100,
			RefillRate: 10,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:         5,
			ResetTimeoutSeconds:      30,
			HalfOpenSuccessThreshold: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileOutput: false,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Theme:      "default",
			PrettyLogs: true,
		},
	}
}

// Load loads configuration from a YAML file (if present) and from
// GATEWAY_-prefixed environment variables, which always win.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("GATEWAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	// AutomaticEnv only consults the environment for keys viper already
	// knows, so register every config field before Unmarshal.
	cfgType := reflect.TypeOf(*cfg)
	for i := 0; i < cfgType.NumField(); i++ {
		section := cfgType.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			_ = viper.BindEnv(strings.ToLower(section.Name + "." + section.Type.Field(j).Name))
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	bindEnv(cfg)

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire reloads
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// bindEnv applies the plain (non-viper-prefixed) env vars named in the
// gateway's interface contract, so GATEWAY_CONFIG_FILE-style overrides
// aren't the only way to configure a deployment.
func bindEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("RATE_LIMIT_CAPACITY"); v != "" {
		if n, err := parseFloat(v); err == nil {
			cfg.RateLimit.Capacity = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_RATE"); v != "" {
		if n, err := parseFloat(v); err == nil {
			cfg.RateLimit.RefillRate = n
		}
	}
	if v := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.CircuitBreaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("CIRCUIT_BREAKER_RESET_TIMEOUT_SECONDS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.CircuitBreaker.ResetTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CIRCUIT_BREAKER_HALF_OPEN_SUCCESS_THRESHOLD"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.CircuitBreaker.HalfOpenSuccessThreshold = n
		}
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}
