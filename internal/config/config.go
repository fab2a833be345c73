// Package config loads the runtime's process configuration from an
// optional YAML file, then an optional .env file, then environment
// variables, following the teacher's godotenv+envdecode+yaml layering.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lagonhq/lagon-node/pkg/logger"
)

// HTTPConfig controls the public request listener.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR"`

	// RateLimitRPS and RateLimitBurst bound per-process request admission.
	// Zero disables the limiter.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"HTTP_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"HTTP_RATE_LIMIT_BURST"`
}

// RuntimeConfig controls the deployment/isolate domain.
type RuntimeConfig struct {
	Region         string        `yaml:"region" env:"LAGON_REGION"`
	RootDomain     string        `yaml:"root_domain" env:"LAGON_ROOT_DOMAIN"`
	DeploymentsDir string        `yaml:"deployments_dir" env:"LAGON_DEPLOYMENTS_DIR"`
	IdleTTL        time.Duration `yaml:"idle_ttl" env:"LAGON_IDLE_TTL"`
}

// ControlPlaneConfig controls the lifecycle message bus.
type ControlPlaneConfig struct {
	RedisAddr string `yaml:"redis_addr" env:"LAGON_CONTROLPLANE_REDIS_ADDR"`
	Channel   string `yaml:"channel" env:"LAGON_CONTROLPLANE_CHANNEL"`
}

// AnalyticsConfig controls request/log batching.
type AnalyticsConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval" env:"LAGON_ANALYTICS_FLUSH_INTERVAL"`
}

// Config is the top-level process configuration.
type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Logging      logger.LoggingConfig `yaml:"logging"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Runtime: RuntimeConfig{
			Region:         "local",
			RootDomain:     "lagon.dev",
			DeploymentsDir: "deployments",
			IdleTTL:        5 * time.Minute,
		},
		ControlPlane: ControlPlaneConfig{
			RedisAddr: "localhost:6379",
			Channel:   "lagon:lifecycle",
		},
		Analytics: AnalyticsConfig{
			FlushInterval: time.Second,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from an optional YAML file, then an optional
// .env file, then environment variables, in that order of increasing
// precedence.
func Load() (*Config, error) {
	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("config/lagond.yaml", cfg)
	}

	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
