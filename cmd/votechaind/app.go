package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"votechain/config"
	"votechain/gateway/middleware"
	"votechain/gateway/routes"
	"votechain/integrations/webhooks"
	"votechain/ledger"
	"votechain/storage"
	"votechain/verification"
)

// app owns every long-lived component of the daemon.
type app struct {
	handler    http.Handler
	blocks     storage.BlockStore
	ledger     *ledger.Ledger
	store      *verification.Store
	dispatcher *webhooks.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config, slogger *slog.Logger, logger *log.Logger) (*app, error) {
	if err := ensureDataDirs(cfg); err != nil {
		return nil, err
	}
	blocks, err := storage.Open(storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		DSN:     cfg.Storage.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	opts := []ledger.Option{
		ledger.WithDifficulty(cfg.Storage.Difficulty),
		ledger.WithLogger(slogger),
	}
	if cfg.Storage.StrictProofOfWork {
		opts = append(opts, ledger.WithStrictProofOfWork())
	}
	chain, err := ledger.Open(ctx, blocks, opts...)
	if err != nil {
		_ = blocks.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a := &app{blocks: blocks, ledger: chain}

	a.store, err = verification.OpenStore(cfg.Verification.Driver, cfg.Verification.DSN)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open verification store: %w", err)
	}

	var notifier verification.Notifier = &verification.LogNotifier{Logger: slogger}
	if url := strings.TrimSpace(cfg.Verification.NotifyURL); url != "" {
		a.dispatcher, err = webhooks.NewDispatcher(url, []byte(cfg.Verification.NotifySecret), webhooks.WithLogger(slogger))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("configure otp webhook: %w", err)
		}
		notifier = a.dispatcher
	}

	workflow, err := verification.NewService(a.store, chain, notifier, verification.Config{
		OTPTTL:             cfg.Verification.OTPTTL,
		OTPSalt:            []byte(cfg.Verification.OTPSalt),
		MinBiometricLength: cfg.Verification.MinBiometricLength,
	}, slogger)
	if err != nil {
		a.close()
		return nil, err
	}

	limits, limitRoutes := rateLimits(cfg.RateLimits)
	router, err := routes.New(routes.Config{
		Ledger:       chain,
		Verification: workflow,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			RoleClaim:  cfg.Auth.RoleClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		RateLimits:  limitRoutes,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSOrigins,
		},
		AdminRole: cfg.Auth.AdminRole,
		ExposeOTP: cfg.Verification.ExposeOTP,
		Logger:    slogger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	a.handler = router
	if cfg.Observability.Tracing {
		a.handler = otelhttp.NewHandler(router, cfg.Observability.ServiceName)
	}
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.blocks != nil {
		errs = append(errs, a.blocks.Close())
	}
	return errors.Join(errs...)
}

// rateLimits turns the configured limits into the middleware table and the
// path prefixes each limit guards.
func rateLimits(entries []config.RateLimitConfig) (map[string]middleware.RateLimit, []routes.RateLimitRoute) {
	limits := make(map[string]middleware.RateLimit, len(entries))
	var prefixes []routes.RateLimitRoute
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		limits[id] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
		}
		for _, path := range entry.Paths {
			if path = strings.TrimSpace(path); path != "" {
				prefixes = append(prefixes, routes.RateLimitRoute{Prefix: path, Limit: id})
			}
		}
	}
	return limits, prefixes
}

// ensureDataDirs creates parent directories for file backed databases.
func ensureDataDirs(cfg *config.Config) error {
	var paths []string
	switch cfg.Storage.Backend {
	case storage.BackendSQLite, storage.BackendBolt:
		paths = append(paths, filepath.Dir(cfg.Storage.Path))
	case storage.BackendLevelDB:
		paths = append(paths, cfg.Storage.Path)
	}
	if cfg.Verification.Driver == "sqlite" && !strings.HasPrefix(cfg.Verification.DSN, "file:") {
		paths = append(paths, filepath.Dir(cfg.Verification.DSN))
	}
	for _, dir := range paths {
		dir = strings.TrimSpace(dir)
		if dir == "" || dir == "." || strings.HasPrefix(dir, "file:") {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return nil
}
