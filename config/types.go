package config

import "time"

// StorageConfig selects the block store backend and sealing parameters.
type StorageConfig struct {
	Backend           string `toml:"backend" yaml:"backend"`
	Path              string `toml:"path" yaml:"path"`
	DSN               string `toml:"dsn" yaml:"dsn"`
	Difficulty        int    `toml:"difficulty" yaml:"difficulty"`
	StrictProofOfWork bool   `toml:"strictProofOfWork" yaml:"strictProofOfWork"`
}

// VerificationConfig configures the voter verification workflow and its
// relational database.
type VerificationConfig struct {
	Driver             string        `toml:"driver" yaml:"driver"`
	DSN                string        `toml:"dsn" yaml:"dsn"`
	OTPTTL             time.Duration `toml:"otpTTL" yaml:"otpTTL"`
	ExposeOTP          bool          `toml:"exposeOTP" yaml:"exposeOTP"`
	OTPSalt            string        `toml:"otpSalt" yaml:"otpSalt"`
	NotifyURL          string        `toml:"notifyURL" yaml:"notifyURL"`
	NotifySecret       string        `toml:"notifySecret" yaml:"notifySecret"`
	MinBiometricLength int           `toml:"minBiometricLength" yaml:"minBiometricLength"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled    bool          `toml:"enabled" yaml:"enabled"`
	HMACSecret string        `toml:"hmacSecret" yaml:"hmacSecret"`
	Issuer     string        `toml:"issuer" yaml:"issuer"`
	Audience   string        `toml:"audience" yaml:"audience"`
	RoleClaim  string        `toml:"roleClaim" yaml:"roleClaim"`
	AdminRole  string        `toml:"adminRole" yaml:"adminRole"`
	ClockSkew  time.Duration `toml:"clockSkew" yaml:"clockSkew"`
}

// RateLimitConfig throttles requests whose path starts with one of Paths.
type RateLimitConfig struct {
	ID                string   `toml:"id" yaml:"id"`
	RequestsPerMinute float64  `toml:"requestsPerMinute" yaml:"requestsPerMinute"`
	RatePerSecond     float64  `toml:"ratePerSecond" yaml:"ratePerSecond"`
	Burst             int      `toml:"burst" yaml:"burst"`
	Paths             []string `toml:"paths" yaml:"paths"`
}

// ObservabilityConfig toggles metrics, tracing and request logs.
type ObservabilityConfig struct {
	ServiceName   string `toml:"serviceName" yaml:"serviceName"`
	Metrics       bool   `toml:"metrics" yaml:"metrics"`
	Tracing       bool   `toml:"tracing" yaml:"tracing"`
	LogRequests   bool   `toml:"logRequests" yaml:"logRequests"`
	MetricsPrefix string `toml:"metricsPrefix" yaml:"metricsPrefix"`
}

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// Config is the votechain service configuration.
type Config struct {
	Env           string              `toml:"env" yaml:"env"`
	ListenAddress string              `toml:"listen" yaml:"listen"`
	ReadTimeout   time.Duration       `toml:"readTimeout" yaml:"readTimeout"`
	WriteTimeout  time.Duration       `toml:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `toml:"idleTimeout" yaml:"idleTimeout"`
	CORSOrigins   []string            `toml:"corsOrigins" yaml:"corsOrigins"`
	Storage       StorageConfig       `toml:"storage" yaml:"storage"`
	Verification  VerificationConfig  `toml:"verification" yaml:"verification"`
	Auth          AuthConfig          `toml:"auth" yaml:"auth"`
	RateLimits    []RateLimitConfig   `toml:"rateLimits" yaml:"rateLimits"`
	Observability ObservabilityConfig `toml:"observability" yaml:"observability"`
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
}
