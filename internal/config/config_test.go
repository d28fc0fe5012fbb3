package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Redis.Host != "redis" {
		t.Errorf("Expected redis host \"redis\", got %s", cfg.Redis.Host)
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("Expected redis port 6379, got %d", cfg.Redis.Port)
	}
	if cfg.Upstream.URL != "http://upstream-service:5001" {
		t.Errorf("Expected default upstream URL http://upstream-service:5001, got %s", cfg.Upstream.URL)
	}
	if cfg.RateLimit.Capacity != 100 {
		t.Errorf("Expected default rate limit capacity 100, got %v", cfg.RateLimit.Capacity)
	}
	if cfg.RateLimit.RefillRate != 10 {
		t.Errorf("Expected default rate limit refill rate 10, got %v", cfg.RateLimit.RefillRate)
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		t.Error("Expected a positive default failure threshold")
	}
	if cfg.CircuitBreaker.ResetTimeoutSeconds <= 0 {
		t.Error("Expected a positive default reset timeout")
	}
	if cfg.CircuitBreaker.HalfOpenSuccessThreshold <= 0 {
		t.Error("Expected a positive default half-open success threshold")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Engineering.ShowNerdStats != false {
		t.Error("Expected ShowNerdStats to be false by default")
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected default host %s, got %s", DefaultHost, cfg.Server.Host)
	}
}

func TestLoadConfig_WithGatewayEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"GATEWAY_SERVER_PORT":   "8081",
		"GATEWAY_SERVER_HOST":   "127.0.0.1",
		"GATEWAY_LOGGING_LEVEL": "debug",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("Expected port 8081 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1 from env var, got %s", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_WithPlainEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"PORT":                                         "9999",
		"REDIS_HOST":                                   "redis.internal",
		"REDIS_PORT":                                   "6380",
		"UPSTREAM_URL":                                 "http://upstream.internal:9000",
		"RATE_LIMIT_CAPACITY":                          "25",
		"RATE_LIMIT_REFILL_RATE":                        "2.5",
		"CIRCUIT_BREAKER_FAILURE_THRESHOLD":             "7",
		"CIRCUIT_BREAKER_RESET_TIMEOUT_SECONDS":         "60",
		"CIRCUIT_BREAKER_HALF_OPEN_SUCCESS_THRESHOLD":   "3",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("Expected redis host from env var, got %s", cfg.Redis.Host)
	}
	if cfg.Redis.Port != 6380 {
		t.Errorf("Expected redis port 6380 from env var, got %d", cfg.Redis.Port)
	}
	if cfg.Upstream.URL != "http://upstream.internal:9000" {
		t.Errorf("Expected upstream URL from env var, got %s", cfg.Upstream.URL)
	}
	if cfg.RateLimit.Capacity != 25 {
		t.Errorf("Expected rate limit capacity 25 from env var, got %v", cfg.RateLimit.Capacity)
	}
	if cfg.RateLimit.RefillRate != 2.5 {
		t.Errorf("Expected rate limit refill rate 2.5 from env var, got %v", cfg.RateLimit.RefillRate)
	}
	if cfg.CircuitBreaker.FailureThreshold != 7 {
		t.Errorf("Expected failure threshold 7 from env var, got %d", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.ResetTimeoutSeconds != 60 {
		t.Errorf("Expected reset timeout 60 from env var, got %d", cfg.CircuitBreaker.ResetTimeoutSeconds)
	}
	if cfg.CircuitBreaker.HalfOpenSuccessThreshold != 3 {
		t.Errorf("Expected half-open success threshold 3 from env var, got %d", cfg.CircuitBreaker.HalfOpenSuccessThreshold)
	}
}

func TestConfigTypes(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ReadTimeout.String() == "" {
		t.Error("ReadTimeout should be a valid duration")
	}
	if cfg.Server.WriteTimeout.String() == "" {
		t.Error("WriteTimeout should be a valid duration")
	}
	if cfg.Upstream.ConnectionTimeout.String() == "" {
		t.Error("ConnectionTimeout should be a valid duration")
	}
	if cfg.Upstream.ResponseTimeout <= 0 {
		t.Error("ResponseTimeout should be positive")
	}
}

func TestParseInt(t *testing.T) {
	testCases := []struct {
		input    string
		expected int
		hasError bool
	}{
		{"100", 100, false},
		{"0", 0, false},
		{"-5", -5, false},
		{"not-a-number", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result, err := parseInt(tc.input)
			if tc.hasError {
				if err == nil {
					t.Errorf("Expected error for input %q, got none", tc.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error for input %q: %v", tc.input, err)
			}
			if result != tc.expected {
				t.Errorf("Expected %d for input %q, got %d", tc.expected, tc.input, result)
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	testCases := []struct {
		input    string
		expected float64
		hasError bool
	}{
		{"1.5", 1.5, false},
		{"10", 10, false},
		{"not-a-float", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result, err := parseFloat(tc.input)
			if tc.hasError {
				if err == nil {
					t.Errorf("Expected error for input %q, got none", tc.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error for input %q: %v", tc.input, err)
			}
			if result != tc.expected {
				t.Errorf("Expected %v for input %q, got %v", tc.expected, tc.input, result)
			}
		})
	}
}

func TestLoadConfig_OnConfigChangeCallback(t *testing.T) {
	// onConfigChange only fires from viper's fsnotify watcher on an actual
	// file change; this just confirms Load accepts the callback cleanly.
	cfg, err := Load(func() {})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}
