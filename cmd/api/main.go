// Package main is the entry point for the arcana API server.
//
// Startup order: configuration, logger, database pool, repositories,
// services, HTTP chassis, routes. The server runs until SIGINT/SIGTERM and
// then drains connections before closing the pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arcana/internal/api/handlers"
	"arcana/internal/billing"
	"arcana/internal/config"
	"arcana/internal/core"
	"arcana/internal/db"
	"arcana/internal/external"
	"arcana/internal/identity"
	"arcana/internal/quota"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("arcana API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories over the shared pool.
	profiles := db.NewProfileRepository(pool)
	usage := db.NewUsageRepository(pool)
	plans := db.NewPlanRepository(pool)
	payments := db.NewPaymentRepository(pool)
	cards := db.NewCardRepository(pool)

	// Domain services.
	ledger := quota.NewLedger(profiles, usage, quota.Config{
		AnonDailyLimit: cfg.Quota.AnonDailyLimit,
		FreeDailyLimit: cfg.Quota.FreeDailyLimit,
	}, logger)

	gateway := billing.NewGateway(cfg.Billing)
	billingSvc := billing.NewService(gateway, pool, plans, payments, logger)

	workflow := external.NewWorkflowClient(cfg.Workflow, logger)

	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret)
	resolver := identity.NewResolver(verifier)
	migrator := identity.NewMigrator(pool)

	// HTTP chassis and routes.
	srv, err := core.NewServer(cfg, logger, resolver)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}

	assistantHandler := handlers.NewAssistantHandler(ledger, workflow, cards, logger)
	usageHandler := handlers.NewUsageHandler(ledger, migrator, logger)
	billingHandler := handlers.NewBillingHandler(billingSvc, logger)
	webhookHandler := handlers.NewFreeKassaWebhookHandler(billingSvc, logger)

	srv.V1RouteRegistrars = []core.RouteRegistrar{
		assistantHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	}
	srv.WebhookRegistrars = []core.RouteRegistrar{
		webhookHandler.RegisterRoutes,
	}
	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// serve runs the HTTP listener until the context is cancelled or the
// listener fails, then shuts down gracefully.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The workflow engine can take most of a minute; the write timeout
		// must outlast it.
		WriteTimeout: cfg.Workflow.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
