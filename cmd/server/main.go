// Package main is the entry point for the rewards ledger service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // user timezones must resolve without a system zoneinfo

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"promo-rewards/internal/config"
	"promo-rewards/internal/earnings"
	"promo-rewards/internal/handler"
	"promo-rewards/internal/jobs"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/pkg/db"
	"promo-rewards/internal/pkg/ratelimit"
	"promo-rewards/internal/referral"
	"promo-rewards/internal/repository"
	"promo-rewards/internal/repository/memstore"
	"promo-rewards/internal/service"
	"promo-rewards/internal/spin"
)

// backend is what both store implementations provide.
type backend interface {
	ledger.Store
	service.AccountStore
	service.SpinReader
	handler.Pinger
	jobs.Reconciler
}

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rule tables
	plans, err := cfg.LevelPlans()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid level table")
	}
	engine, err := earnings.NewEngine(plans)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid level table")
	}
	wheelCfg, err := cfg.WheelConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid spin configuration")
	}
	wheel, err := spin.NewWheel(wheelCfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid spin configuration")
	}
	tiers, err := cfg.ReferralTiers()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid referral tiers")
	}
	tierTable, err := referral.NewTable(tiers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid referral tiers")
	}

	// Storage
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Ad callback rate limiting
	var limiter ratelimit.Limiter = ratelimit.Nop{}
	if cfg.Redis.Addr != "" {
		client, err := ratelimit.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, "rewards:ad", cfg.RateLimit.AdEventsPerWindow, cfg.RateLimit.Window)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Ad rate limiting enabled")
	}

	// Services
	l := ledger.New(store, engine, ledger.NewMetrics(prometheus.DefaultRegisterer))
	h := &handler.Handler{
		Accounts:  service.NewAccountService(store, l),
		Ads:       service.NewAdService(l, limiter),
		Spins:     service.NewSpinService(l, wheel, store),
		Referrals: service.NewReferralService(store, l, tierTable),
		Admin:     service.NewAdminService(store, l),
		Store:     store,
		IsAdmin:   cfg.IsAdmin,
		Auth:      cfg.Auth,
	}
	warnOpenSecrets(cfg.Auth)

	// Background jobs
	scheduler := jobs.NewScheduler(store, cfg.Jobs.ReconcileSchedule, cfg.Jobs.Timezone, prometheus.DefaultRegisterer)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job scheduler")
	}

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	scheduler.Stop()
	cancel()
	log.Info().Msg("Server stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openStore connects to PostgreSQL when a host is configured and falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (backend, func()) {
	if cfg.Database.Host == "" {
		log.Warn().Msg("No database host configured, using in-memory store")
		return memstore.New(), func() {}
	}

	pool, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := pool.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn().Err(err).Msg("Pool metrics unavailable")
	}
	return repository.NewStore(pool.Pool), pool.Close
}

var (
	_ backend = (*repository.Store)(nil)
	_ backend = (*memstore.Store)(nil)
)

// warnOpenSecrets flags route groups that will reject everything for lack of a secret.
func warnOpenSecrets(a config.AuthConfig) {
	secrets := map[string]string{
		"auth.callback_secret": a.CallbackSecret,
		"auth.service_secret":  a.ServiceSecret,
		"auth.admin_secret":    a.AdminSecret,
	}
	for key, v := range secrets {
		if v == "" {
			log.Warn().Str("key", key).Msg("Secret not configured, its routes reject every request")
		}
	}
}
