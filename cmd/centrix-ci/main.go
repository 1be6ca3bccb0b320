// centrix-ci is the multi-tenant CI orchestrator: it ingests forge
// webhooks, schedules and executes pipelines, deduplicates failures,
// and exposes build state and metrics over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/api"
	"github.com/centrixci/centrix-ci/internal/config"
	"github.com/centrixci/centrix-ci/internal/envreaper"
	"github.com/centrixci/centrix-ci/internal/executil"
	"github.com/centrixci/centrix-ci/internal/executor"
	"github.com/centrixci/centrix-ci/internal/forge"
	"github.com/centrixci/centrix-ci/internal/metrics"
	"github.com/centrixci/centrix-ci/internal/scheduler"
	"github.com/centrixci/centrix-ci/internal/store"
	"github.com/centrixci/centrix-ci/internal/webhook"
)

// defaultTenantID is the single tenant this process serves. Multi-process
// tenant sharding is out of scope.
const defaultTenantID = "default"

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !cfg.HasWebhookSecret() {
		logger.Warn("CI_WEBHOOK_SECRET not set, webhook signature verification is disabled")
	}
	if !cfg.HasGitHubToken() {
		logger.Warn("CI_GITHUB_TOKEN not set, outbound forge status callbacks are disabled")
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	forgeClient := forge.NewClient(cfg.GitHubToken, cfg.DashboardURL, logger)

	exec := executor.New(st, forgeClient, executil.NewRunner(), logger)
	sched := scheduler.New(st, exec, defaultTenantID, cfg.MaxConcurrent, logger)
	reaper := envreaper.New(st, defaultTenantID, cfg.IdleTimeout, cfg.DormantTTL, logger)

	webhookHandler := webhook.New(webhook.Deps{
		Store:          st,
		Forge:          forgeClient,
		Secret:         cfg.WebhookSecret,
		TenantID:       defaultTenantID,
		DashboardURL:   cfg.DashboardURL,
		ThrottleWindow: cfg.ThrottleWindow,
		Logger:         logger,
	})
	apiServer := api.New(st, defaultTenantID, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /ci/webhook/github", webhookHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", apiServer)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched.Start(ctx)
	reaper.Start(ctx)

	logger.Info("starting centrix-ci", zap.String("addr", srv.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}

	sched.Stop()
	reaper.Stop()
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "text" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
