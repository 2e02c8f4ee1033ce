package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BlueflyCollective/openstandardagents/pkg/api"
	"github.com/BlueflyCollective/openstandardagents/pkg/attest"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/config"
	"github.com/BlueflyCollective/openstandardagents/pkg/observability"
)

// runServe starts the validation API server and blocks until SIGINT or
// SIGTERM, then drains in-flight requests.
func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := newComponents(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer comps.close(context.Background())

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: init observability: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", "error", err)
		}
	}()

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithObservability(obs),
		api.WithDefaultContext(defaultContext(cfg, logger)),
		api.WithDefaultFrameworks(comps.catalog.IDs()),
	}

	if auth := api.NewAuthenticator(cfg.AuthSecret); auth != nil {
		opts = append(opts, api.WithAuthenticator(auth))
	} else {
		logger.Warn("AUTH_SECRET not set, API authentication disabled")
	}

	if cfg.RedisAddr != "" {
		limiter := api.NewRedisLimiter(cfg.RedisAddr, cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() {
			if err := limiter.Close(); err != nil {
				logger.Warn("close redis limiter", "error", err)
			}
		}()
		opts = append(opts, api.WithLimiter(limiter))
	} else if cfg.RateLimitRPS > 0 {
		opts = append(opts, api.WithLimiter(api.NewLocalLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}

	if cfg.AttestSecret != "" {
		provider, err := attest.DeriveProvider([]byte(cfg.AttestSecret), cfg.AttestScope)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: derive attestation key: %v\n", err)
			return 2
		}
		opts = append(opts, api.WithSigner(attest.NewSigner(provider)))
	}

	srv, err := api.NewServer(comps.engine, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening",
			"addr", cfg.Addr(),
			"environment", cfg.Environment,
			"version", compliance.Version,
			"audit_backend", cfg.AuditBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		_, _ = fmt.Fprintf(stderr, "Error: server failed: %v\n", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}
