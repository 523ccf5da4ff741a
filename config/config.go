package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Env:           "dev",
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Storage: StorageConfig{
			Backend:    "sqlite",
			Path:       "./votechain-data/ledger.sqlite",
			Difficulty: 2,
		},
		Verification: VerificationConfig{
			Driver:             "sqlite",
			DSN:                "./votechain-data/verification.sqlite",
			OTPTTL:             5 * time.Minute,
			MinBiometricLength: 11,
		},
		Auth: AuthConfig{
			RoleClaim: "role",
			AdminRole: "admin",
			ClockSkew: 2 * time.Minute,
		},
		RateLimits: []RateLimitConfig{
			{ID: "otp", RequestsPerMinute: 10, Burst: 3, Paths: []string{"/api/verification/otp"}},
			{ID: "admin", RequestsPerMinute: 120, Burst: 20, Paths: []string{"/api/admin"}},
		},
		Observability: ObservabilityConfig{
			ServiceName:   "votechaind",
			Metrics:       true,
			LogRequests:   true,
			MetricsPrefix: "votechain_gateway",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration at path. The format follows the extension:
// .toml, .yaml or .yml. An empty path yields the defaults; a missing TOML file
// is created with the defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return persist(path, cfg)
		}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
		return nil
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*dst = value
		}
	}
	set("VOTECHAIN_ENV", &cfg.Env)
	set("VOTECHAIN_LISTEN", &cfg.ListenAddress)
	set("VOTECHAIN_STORAGE_BACKEND", &cfg.Storage.Backend)
	set("VOTECHAIN_STORAGE_PATH", &cfg.Storage.Path)
	set("VOTECHAIN_STORAGE_DSN", &cfg.Storage.DSN)
	set("VOTECHAIN_VERIFICATION_DSN", &cfg.Verification.DSN)
	set("VOTECHAIN_OTP_SALT", &cfg.Verification.OTPSalt)
	set("VOTECHAIN_NOTIFY_SECRET", &cfg.Verification.NotifySecret)
	set("VOTECHAIN_AUTH_SECRET", &cfg.Auth.HMACSecret)
	set("VOTECHAIN_LOG_LEVEL", &cfg.Logging.Level)
}

func (cfg *Config) applyDefaults() {
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.RoleClaim == "" {
		cfg.Auth.RoleClaim = "role"
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if cfg.Verification.OTPTTL <= 0 {
		cfg.Verification.OTPTTL = 5 * time.Minute
	}
	if cfg.Verification.MinBiometricLength <= 0 {
		cfg.Verification.MinBiometricLength = 11
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "votechaind"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Verification.Driver = strings.ToLower(strings.TrimSpace(cfg.Verification.Driver))
}

// IsDev reports whether the configuration targets a local environment.
func (cfg *Config) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Env), "dev")
}
