package eventbus

import (
	"encoding/hex"
	"fmt"

	"github.com/questline/eventbus/pkg/eventbus/broker"
	"github.com/questline/eventbus/pkg/eventbus/config"
	"github.com/questline/eventbus/pkg/eventbus/history"
	"github.com/questline/eventbus/pkg/eventbus/resilience"
)

// FromSettings builds a production bus Config from loaded settings: a Redis
// broker, a SQLite history store when a path is configured (in-memory
// otherwise), and the resilience parameters. The encryption key, when set,
// is a hex-encoded 32-byte value.
func FromSettings(s config.Settings) (Config, error) {
	brokerCfg := broker.RedisConfig{
		URL:        s.BrokerURL,
		Addrs:      s.BrokerAddrs,
		MasterName: s.SentinelMaster,
		Password:   s.BrokerPassword,
		DB:         s.BrokerDB,
	}
	if len(s.BrokerAddrs) > 0 {
		brokerCfg.URL = ""
	}
	br, err := broker.NewRedisBroker(brokerCfg)
	if err != nil {
		return Config{}, fmt.Errorf("eventbus: broker: %w", err)
	}

	var store history.Store
	if s.HistoryPath != "" {
		store, err = history.NewSQLiteStore(s.HistoryPath)
		if err != nil {
			return Config{}, fmt.Errorf("eventbus: history: %w", err)
		}
	} else {
		store = history.NewMemoryStore(s.HistorySize)
	}

	var key []byte
	if s.EncryptionKey != "" {
		key, err = hex.DecodeString(s.EncryptionKey)
		if err != nil {
			return Config{}, fmt.Errorf("eventbus: encryption key: %w", err)
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("eventbus: encryption key: need 32 bytes, got %d", len(key))
		}
	}

	return Config{
		Broker:  br,
		History: store,
		RateLimit: resilience.RateLimiterConfig{
			MaxEvents: s.RateLimitMaxEvents,
			Window:    s.RateLimitWindow,
		},
		CircuitBreaker: resilience.BreakerConfig{
			FailureThreshold: s.BreakerFailureThreshold,
			RecoveryTimeout:  s.BreakerRecoveryTimeout,
		},
		Reconnect: resilience.ReconnectConfig{
			Retries: s.ReconnectRetries,
		},
		DeadLetterLimit: s.DeadLetterLimit,
		ProbeInterval:   s.ProbeInterval,
		Compression:     s.Compression,
		EncryptionKey:   key,
	}, nil
}
