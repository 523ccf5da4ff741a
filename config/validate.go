package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrAuthRequired = errors.New("auth.enabled must be true outside the dev environment")

var knownBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
	"leveldb":  true,
	"bolt":     true,
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if !knownBackends[cfg.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not supported", cfg.Storage.Backend)
	}
	switch cfg.Storage.Backend {
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn required for postgres")
		}
	case "sqlite", "leveldb", "bolt":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path required for %s", cfg.Storage.Backend)
		}
	}
	if cfg.Storage.Difficulty < 0 || cfg.Storage.Difficulty > 64 {
		return fmt.Errorf("storage.difficulty must be within 0..64")
	}
	switch cfg.Verification.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("verification.driver %q is not supported", cfg.Verification.Driver)
	}
	if strings.TrimSpace(cfg.Verification.DSN) == "" {
		return fmt.Errorf("verification.dsn required")
	}
	if cfg.Verification.ExposeOTP && !cfg.IsDev() {
		return fmt.Errorf("verification.exposeOTP is only permitted in dev")
	}
	if strings.TrimSpace(cfg.Verification.NotifyURL) != "" && strings.TrimSpace(cfg.Verification.NotifySecret) == "" {
		return fmt.Errorf("verification.notifySecret required when notifyURL is set")
	}
	if !cfg.Auth.Enabled && !cfg.IsDev() {
		return ErrAuthRequired
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth is enabled")
	}
	for i, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 && limit.RatePerSecond <= 0 {
			return fmt.Errorf("rateLimits[%d] must set requestsPerMinute or ratePerSecond", i)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rateLimits[%d].burst cannot be negative", i)
		}
		for j, path := range limit.Paths {
			if !strings.HasPrefix(strings.TrimSpace(path), "/") {
				return fmt.Errorf("rateLimits[%d].paths[%d] must start with '/'", i, j)
			}
		}
	}
	return nil
}
