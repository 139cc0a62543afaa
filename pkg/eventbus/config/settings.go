// Package config loads event bus configuration from yaml/json files and the
// environment. File values fill a Settings struct; environment variables
// (EVENTBUS_*) override whatever the file set.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the full bus configuration surface.
type Settings struct {
	// Broker connection. BrokerURL wins over BrokerAddrs when both are set;
	// BrokerAddrs plus SentinelMaster selects sentinel topology.
	BrokerURL      string   `env:"EVENTBUS_BROKER_URL"`
	BrokerAddrs    []string `env:"EVENTBUS_BROKER_ADDRS"`
	SentinelMaster string   `env:"EVENTBUS_SENTINEL_MASTER"`
	BrokerPassword string   `env:"EVENTBUS_BROKER_PASSWORD"`
	BrokerDB       int      `env:"EVENTBUS_BROKER_DB"`

	SourceService string `env:"EVENTBUS_SOURCE_SERVICE"`

	ReconnectRetries int `env:"EVENTBUS_RECONNECT_RETRIES"`

	RateLimitMaxEvents int           `env:"EVENTBUS_RATE_LIMIT_MAX_EVENTS"`
	RateLimitWindow    time.Duration `env:"EVENTBUS_RATE_LIMIT_WINDOW"`

	BreakerFailureThreshold int           `env:"EVENTBUS_BREAKER_FAILURE_THRESHOLD"`
	BreakerRecoveryTimeout  time.Duration `env:"EVENTBUS_BREAKER_RECOVERY_TIMEOUT"`

	HistorySize int    `env:"EVENTBUS_HISTORY_SIZE"`
	HistoryPath string `env:"EVENTBUS_HISTORY_PATH"`

	DeadLetterLimit int `env:"EVENTBUS_DEAD_LETTER_LIMIT"`

	ProbeInterval time.Duration `env:"EVENTBUS_PROBE_INTERVAL"`

	Compression   bool   `env:"EVENTBUS_COMPRESSION"`
	EncryptionKey string `env:"EVENTBUS_ENCRYPTION_KEY"`
}

// DefaultSettings provides reasonable defaults for a single-node deployment.
var DefaultSettings = Settings{
	BrokerURL:               "redis://localhost:6379/0",
	SourceService:           "eventbus",
	ReconnectRetries:        3,
	RateLimitMaxEvents:      1000,
	RateLimitWindow:         time.Second,
	BreakerFailureThreshold: 5,
	BreakerRecoveryTimeout:  30 * time.Second,
	HistorySize:             1000,
	DeadLetterLimit:         1000,
}

// Load builds Settings from an optional config file and the environment.
// An empty path skips the file; environment variables always win.
func Load(path string) (Settings, error) {
	s := DefaultSettings

	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s.applyFile(cfg)
	}

	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// applyFile overlays file values onto the settings.
func (s *Settings) applyFile(cfg Config) {
	broker := cfg.Section("broker")
	s.BrokerURL = broker.String("url", s.BrokerURL)
	s.BrokerAddrs = broker.StringSlice("addrs", s.BrokerAddrs)
	s.SentinelMaster = broker.String("sentinel_master", s.SentinelMaster)
	s.BrokerPassword = broker.String("password", s.BrokerPassword)
	s.BrokerDB = broker.Int("db", s.BrokerDB)

	s.SourceService = cfg.String("source_service", s.SourceService)
	s.ReconnectRetries = cfg.Int("reconnect_retries", s.ReconnectRetries)

	rate := cfg.Section("rate_limit")
	s.RateLimitMaxEvents = rate.Int("max_events", s.RateLimitMaxEvents)
	s.RateLimitWindow = rate.Duration("window", s.RateLimitWindow)

	breaker := cfg.Section("circuit_breaker")
	s.BreakerFailureThreshold = breaker.Int("failure_threshold", s.BreakerFailureThreshold)
	s.BreakerRecoveryTimeout = breaker.Duration("recovery_timeout", s.BreakerRecoveryTimeout)

	hist := cfg.Section("history")
	s.HistorySize = hist.Int("size", s.HistorySize)
	s.HistoryPath = hist.String("path", s.HistoryPath)

	s.DeadLetterLimit = cfg.Int("dead_letter_limit", s.DeadLetterLimit)
	s.ProbeInterval = cfg.Duration("probe_interval", s.ProbeInterval)
	s.Compression = cfg.Bool("compression", s.Compression)
	s.EncryptionKey = cfg.String("encryption_key", s.EncryptionKey)
}
