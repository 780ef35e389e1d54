// Package config provides configuration management for the gateway.
// Configuration is loaded from a YAML file with environment variable
// overrides, environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayefimenko/sharklearning-sub002/internal/circuitbreaker"
	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
	"github.com/ayefimenko/sharklearning-sub002/internal/retry"
	"github.com/ayefimenko/sharklearning-sub002/internal/secrets"
)

// Config holds all gateway configuration.
type Config struct {
	Server         ServerConfig            `yaml:"server"`
	Logging        observability.LogConfig `yaml:"logging"`
	Services       []ServiceConfig         `yaml:"services"`
	HealthCheck    HealthCheckConfig       `yaml:"healthCheck"`
	CircuitBreaker BreakerConfig           `yaml:"circuitBreaker"`
	Retry          map[string]RetryConfig  `yaml:"retry"`
	Secrets        SecretsConfig           `yaml:"secrets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort        int      `yaml:"httpPort"`
	MetricsPort     int      `yaml:"metricsPort"`
	MetricsPath     string   `yaml:"metricsPath"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// ServiceConfig describes one logical downstream service.
type ServiceConfig struct {
	Name       string   `yaml:"name"`
	URLs       []string `yaml:"urls"`
	HealthPath string   `yaml:"healthPath"`
	Weights    []int    `yaml:"weights"`
}

// HealthCheckConfig holds health poller settings.
type HealthCheckConfig struct {
	Interval           Duration `yaml:"interval"`
	Timeout            Duration `yaml:"timeout"`
	HealthyThreshold   int      `yaml:"healthyThreshold"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold"`
}

// BreakerConfig holds circuit breaker settings shared by all services.
type BreakerConfig struct {
	FailureThreshold         int      `yaml:"failureThreshold"`
	SuccessThreshold         int      `yaml:"successThreshold"`
	ResetTimeout             Duration `yaml:"resetTimeout"`
	Timeout                  Duration `yaml:"timeout"`
	VolumeThreshold          int      `yaml:"volumeThreshold"`
	ErrorThresholdPercentage float64  `yaml:"errorThresholdPercentage"`
	MonitoringWindow         Duration `yaml:"monitoringWindow"`
}

// RetryConfig holds retry policy settings for one operation category.
type RetryConfig struct {
	MaxRetries        int      `yaml:"maxRetries"`
	BaseDelay         Duration `yaml:"baseDelay"`
	MaxDelay          Duration `yaml:"maxDelay"`
	Strategy          string   `yaml:"strategy"`
	Jitter            string   `yaml:"jitter"`
	ExponentialBase   float64  `yaml:"exponentialBase"`
	LinearIncrement   Duration `yaml:"linearIncrement"`
	Timeout           Duration `yaml:"timeout"`
	TimeoutMultiplier float64  `yaml:"timeoutMultiplier"`
}

// SecretsConfig holds secrets store settings. The passphrase is normally
// supplied through the environment, not the file.
type SecretsConfig struct {
	Dir             string   `yaml:"dir"`
	Passphrase      string   `yaml:"passphrase"`
	CacheTTL        Duration `yaml:"cacheTtl"`
	SweepInterval   Duration `yaml:"sweepInterval"`
	BackupRetention Duration `yaml:"backupRetention"`
	Watch           bool     `yaml:"watch"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			MetricsPath:     "/metrics",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		HealthCheck: HealthCheckConfig{
			Interval:           Duration(30 * time.Second),
			Timeout:            Duration(5 * time.Second),
			HealthyThreshold:   1,
			UnhealthyThreshold: 1,
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold:         5,
			SuccessThreshold:         2,
			ResetTimeout:             Duration(30 * time.Second),
			Timeout:                  Duration(30 * time.Second),
			VolumeThreshold:          10,
			ErrorThresholdPercentage: 50,
			MonitoringWindow:         Duration(time.Minute),
		},
		Retry: map[string]RetryConfig{
			"network": {
				MaxRetries:        3,
				BaseDelay:         Duration(100 * time.Millisecond),
				MaxDelay:          Duration(10 * time.Second),
				Strategy:          string(retry.StrategyExponential),
				Jitter:            string(retry.JitterEqual),
				ExponentialBase:   2.0,
				TimeoutMultiplier: 1.0,
			},
		},
		Secrets: SecretsConfig{
			Dir:             "/etc/gateway/secrets",
			CacheTTL:        Duration(5 * time.Minute),
			SweepInterval:   Duration(time.Minute),
			BackupRetention: Duration(24 * time.Hour),
		},
	}
}

// Load reads configuration from the YAML file at path, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies GATEWAY_* environment variables on top of the
// file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GATEWAY_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("GATEWAY_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("GATEWAY_SECRETS_DIR"); v != "" {
		c.Secrets.Dir = v
	}
	if v := os.Getenv("GATEWAY_SECRETS_PASSPHRASE"); v != "" {
		c.Secrets.Passphrase = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validatePort(c.Server.HTTPPort, "server.httpPort"); err != nil {
		return err
	}
	if err := validatePort(c.Server.MetricsPort, "server.metricsPort"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name is required")
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		seen[svc.Name] = true
		if len(svc.URLs) == 0 {
			return fmt.Errorf("service %s has no instance URLs", svc.Name)
		}
	}

	for category, rc := range c.Retry {
		if rc.MaxRetries < 0 {
			return fmt.Errorf("retry.%s.maxRetries must not be negative", category)
		}
	}

	return nil
}

func validatePort(port int, name string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

// Breaker builds the circuit breaker configuration for the resilience
// layer.
func (b BreakerConfig) Breaker() *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.SuccessThreshold > 0 {
		cfg.SuccessThreshold = b.SuccessThreshold
	}
	if b.ResetTimeout > 0 {
		cfg.ResetTimeout = b.ResetTimeout.Duration()
	}
	if b.Timeout > 0 {
		cfg.Timeout = b.Timeout.Duration()
	}
	if b.VolumeThreshold > 0 {
		cfg.VolumeThreshold = b.VolumeThreshold
	}
	if b.ErrorThresholdPercentage > 0 {
		cfg.ErrorThresholdPercentage = b.ErrorThresholdPercentage
	}
	if b.MonitoringWindow > 0 {
		cfg.MonitoringWindow = b.MonitoringWindow.Duration()
	}
	return cfg
}

// Policy builds a retry policy from the category settings.
func (r RetryConfig) Policy() *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = r.MaxRetries
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay.Duration()
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay.Duration()
	}
	if r.Strategy != "" {
		p.Strategy = retry.Strategy(r.Strategy)
	}
	if r.Jitter != "" {
		p.Jitter = retry.Jitter(r.Jitter)
	}
	if r.ExponentialBase > 0 {
		p.ExponentialBase = r.ExponentialBase
	}
	if r.LinearIncrement > 0 {
		p.LinearIncrement = r.LinearIncrement.Duration()
	}
	if r.Timeout > 0 {
		p.Timeout = r.Timeout.Duration()
	}
	if r.TimeoutMultiplier > 0 {
		p.TimeoutMultiplier = r.TimeoutMultiplier
	}
	return p
}

// StoreConfig builds the secrets store configuration.
func (s SecretsConfig) StoreConfig() *secrets.Config {
	return &secrets.Config{
		Dir:             s.Dir,
		Passphrase:      s.Passphrase,
		CacheTTL:        s.CacheTTL.Duration(),
		SweepInterval:   s.SweepInterval.Duration(),
		BackupRetention: s.BackupRetention.Duration(),
		Watch:           s.Watch,
	}
}
