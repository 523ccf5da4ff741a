package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"votechain/config"
	"votechain/observability/logging"
	telemetry "votechain/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to votechaind configuration (.toml or .yaml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slogger := logging.Setup(cfg.Observability.ServiceName, cfg.Env, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Level:      logging.ParseLevel(cfg.Logging.Level),
	})
	logger := log.Default()

	telemetryCfg := telemetry.ConfigFromEnv(cfg.Observability.ServiceName, cfg.Env)
	telemetryCfg.Traces = cfg.Observability.Tracing
	telemetryCfg.Metrics = cfg.Observability.Tracing && cfg.Observability.Metrics
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApp(ctx, cfg, slogger, logger)
	if err != nil {
		logger.Fatalf("start votechaind: %v", err)
	}
	defer func() {
		if err := application.close(); err != nil {
			logger.Printf("close resources: %v", err)
		}
	}()

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      application.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		slogger.Info("votechaind listening",
			"address", listener.Addr().String(),
			"storage", cfg.Storage.Backend,
			"difficulty", cfg.Storage.Difficulty,
			"auth", cfg.Auth.Enabled)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slogger.Error("listen and serve failed", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
