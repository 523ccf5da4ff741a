package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Verification.MinBiometricLength != 11 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("auth should be off in the dev defaults")
	}
	if cfg.Verification.OTPTTL != 5*time.Minute {
		t.Fatalf("unexpected otp ttl: %v", cfg.Verification.OTPTTL)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "votechain.yaml", `
env: prod
listen: ":9090"
storage:
  backend: postgres
  dsn: postgres://votechain@localhost/votechain
verification:
  driver: postgres
  dsn: postgres://votechain@localhost/verification
  otpTTL: 2m
auth:
  enabled: true
  hmacSecret: s3cret
rateLimits:
  - id: otp
    ratePerSecond: 0.5
    burst: 2
    paths: ["/api/verification/otp"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9090" || cfg.Storage.Backend != "postgres" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Verification.OTPTTL != 2*time.Minute {
		t.Fatalf("unexpected otp ttl: %v", cfg.Verification.OTPTTL)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].RatePerSecond != 0.5 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if cfg.Auth.RoleClaim != "role" {
		t.Fatalf("expected role claim default, got %q", cfg.Auth.RoleClaim)
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "votechain.yml", "storage:\n  engine: bolt\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "votechain.toml", `
listen = ":7000"

[storage]
backend = "bolt"
path = "./data/ledger.db"

[logging]
level = "debug"
file = "./logs/votechain.log"
maxBackups = 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Storage.Path != "./data/ledger.db" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.MaxBackups != 3 {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "votechain.toml", "difficulty = 4\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "difficulty") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadCreatesMissingTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "votechain.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if again.Storage != cfg.Storage || again.Verification != cfg.Verification {
		t.Fatalf("written defaults did not round trip: %+v vs %+v", again, cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "votechain.json", "{}")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOTECHAIN_STORAGE_BACKEND", "LevelDB")
	t.Setenv("VOTECHAIN_STORAGE_PATH", "/var/lib/votechain")
	t.Setenv("VOTECHAIN_LISTEN", ":9999")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "leveldb" || cfg.Storage.Path != "/var/lib/votechain" {
		t.Fatalf("env overrides not applied: %+v", cfg.Storage)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":     func(c *Config) { c.Storage.Backend = "cassandra" },
		"postgres needs dsn":  func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" },
		"bolt needs path":     func(c *Config) { c.Storage.Backend = "bolt"; c.Storage.Path = "" },
		"verification driver": func(c *Config) { c.Verification.Driver = "mysql" },
		"bad difficulty":      func(c *Config) { c.Storage.Difficulty = 65 },
		"secret required":     func(c *Config) { c.Auth.Enabled = true },
		"bad rate":            func(c *Config) { c.RateLimits[0].RequestsPerMinute = 0 },
		"bad path":            func(c *Config) { c.RateLimits[0].Paths = []string{"api"} },
		"expose outside dev": func(c *Config) {
			c.Env = "prod"
			c.Auth.Enabled = true
			c.Auth.HMACSecret = "x"
			c.Verification.ExposeOTP = true
		},
		"notify url without secret": func(c *Config) {
			c.Verification.NotifyURL = "https://sms.example/hook"
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	prod := Default()
	prod.Env = "prod"
	if err := prod.Validate(); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected auth required outside dev, got %v", err)
	}
}
