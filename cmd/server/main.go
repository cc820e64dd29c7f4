// Command server runs the webhook/API process: the chat webhook ingress, the
// API-key tracking API, health, and metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pricewatch/go-tracker-backend/internal/chat"
	"github.com/pricewatch/go-tracker-backend/internal/config"
	"github.com/pricewatch/go-tracker-backend/internal/httpapi"
	"github.com/pricewatch/go-tracker-backend/internal/images"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/observability"
	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
	"github.com/pricewatch/go-tracker-backend/internal/resolver"
	"github.com/pricewatch/go-tracker-backend/internal/services"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	setupLogger(cfg)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.WebhookSecret == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN and TELEGRAM_WEBHOOK_SECRET are required")
	}
	channel, err := chat.NewChannel(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram channel setup failed")
	}

	imgFetcher, err := images.NewHTTPFetcher(cfg.ImageDir, 30*time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ImageDir).Msg("image spool setup failed")
	}

	tracker := &services.TrackingService{
		DB:       db,
		Resolver: resolver.New(cfg.ResolveTimeout, cfg.ResolveRedirects),
		Market:   market.NewHTTPClient(cfg.Fetch.BaseURL, cfg.Fetch.APIKey, cfg.Fetch.Timeout),
		Images:   imgFetcher,
		AddLimit: &ratelimit.DurableLog{
			DB:     db,
			Action: "track",
			Limit:  cfg.Limits.TrackPerHour,
			Span:   time.Hour,
		},
		MaxTracked:   cfg.Limits.MaxTracked,
		AffiliateTag: cfg.AffiliateTag,
	}

	conv := &chat.Conversation{
		DB:      db,
		Tracker: tracker,
		Sender:  channel,
		Log:     log.With().Str("component", "conversation").Logger(),
		BaseURL: cfg.PublicBaseURL,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Tracker: tracker,
		Stats:   &services.StatsService{DB: db},
		Conv:    conv,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
}

// setupLogger configures the global zerolog logger from config.
func setupLogger(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
