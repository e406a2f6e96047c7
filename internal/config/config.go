package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port                         int    `env:"PORT" envDefault:"8080"`
	LogLevel                     string `env:"LOG_LEVEL" envDefault:"info"`
	PairingStore                 string `env:"PAIRING_STORE" envDefault:"memory"`
	RedisURL                     string `env:"REDIS_URL"`
	PairingTTLSeconds            int    `env:"PAIRING_TTL_SECONDS" envDefault:"600"`
	PairingReaperIntervalSeconds int    `env:"PAIRING_REAPER_INTERVAL_SECONDS" envDefault:"0"`
	PairRateLimitPerMin          int    `env:"PAIR_RATE_LIMIT_PER_MIN" envDefault:"60"`
	UpstreamTimeoutSeconds       int    `env:"UPSTREAM_TIMEOUT_SECONDS" envDefault:"15"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PairingTTL() time.Duration {
	if c.PairingTTLSeconds <= 0 {
		return PairingSessionTTL
	}
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

// ReaperInterval returns zero when the background reaper is disabled.
func (c *Config) ReaperInterval() time.Duration {
	if c.PairingReaperIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PairingReaperIntervalSeconds) * time.Second
}

func (c *Config) UpstreamTimeout() time.Duration {
	if c.UpstreamTimeoutSeconds <= 0 {
		return UpstreamTimeout
	}
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	switch c.PairingStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PAIRING_STORE=redis")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS): pairing credentials travel in clear text to redis")
		}
	default:
		return fmt.Errorf("PAIRING_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.PairingStore)
	}

	if c.PairingTTL() > time.Hour {
		return fmt.Errorf("PAIRING_TTL_SECONDS must not exceed 3600")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ClientConfig configures the iplinks CLI.
type ClientConfig struct {
	ServerURL     string `env:"IPLINKS_SERVER_URL" envDefault:"http://localhost:8080"`
	StatePath     string `env:"IPLINKS_STATE_PATH"`
	EncryptionKey string `env:"IPLINKS_ENCRYPTION_KEY"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"warn"`
}

func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	if cfg.StatePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.StatePath = filepath.Join(dir, "iplinks", "state.json")
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &cfg, nil
}
