package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/connector/github"
	"github.com/relaycore/connector-platform/internal/connector/stub"
	"github.com/relaycore/connector-platform/internal/crypto"
	"github.com/relaycore/connector-platform/internal/db"
	"github.com/relaycore/connector-platform/internal/executor"
	"github.com/relaycore/connector-platform/internal/httpapi"
	"github.com/relaycore/connector-platform/internal/repo"
	"github.com/relaycore/connector-platform/internal/scheduler"
	"github.com/relaycore/connector-platform/internal/tokenrefresh"
	"github.com/relaycore/connector-platform/internal/webhook"
)

// stubProviders are providers the platform names but does not yet fully
// integrate; each gets an honestly-partial adapter rather than silent
// omission so the registry and webhook routing paths exercise every slug.
var stubProviders = []string{
	"gmail",
	"jira",
	"google_calendar",
	"google_drive",
	"zoho_cliq",
	"zoho_mail",
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "connector-platform").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	log.Info().Fields(cfg.Redacted()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	keyBytes, err := base64.StdEncoding.DecodeString(cfg.CryptoKeyB64)
	if err != nil {
		log.Fatal().Err(err).Msg("APP_CRYPTO_KEY is not valid base64")
	}
	key, err := crypto.NewKey(keyBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid crypto key")
	}

	conns := repo.NewConnectionRepo(pool, key)
	jobs := repo.NewSyncJobRepo(pool)
	signals := repo.NewSignalRepo(pool)

	registry := connector.NewRegistry()
	if cfg.GitHub.ClientID != "" {
		registry.Register("github", github.New(github.Config{
			ClientID:      cfg.GitHub.ClientID,
			ClientSecret:  cfg.GitHub.ClientSecret,
			RedirectURI:   cfg.GitHub.RedirectURI,
			WebhookSecret: cfg.GitHub.WebhookSecret,
			APIBaseURL:    cfg.GitHub.APIBaseURL,
		}))
	} else {
		registry.Skip("github", "APP_GITHUB_CLIENT_ID not configured")
	}
	for _, slug := range stubProviders {
		registry.Register(slug, stub.New(slug))
	}
	log.Info().Strs("providers", registry.Slugs()).Msg("connector registry populated")

	refreshSvc := tokenrefresh.New(conns, registry, cfg.Refresh)
	exec := executor.New(jobs, conns, signals, registry, refreshSvc, cfg.Executor)
	sched := scheduler.New(pool, cfg.Scheduler)
	ingress := webhook.New(cfg.Webhook, cfg.GitHub, registry, signals, exec)

	srv := &httpapi.Server{
		DB:             pool,
		Connections:    conns,
		Jobs:           jobs,
		Signals:        signals,
		OperatorTokens: cfg.OperatorTokens,
		Webhook:        ingress,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go sched.Run(ctx)
	go exec.Run(ctx)
	go refreshSvc.Run(ctx)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
