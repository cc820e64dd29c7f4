// Command monitor runs the scheduled half of the pipeline: one monitoring
// pass at startup, then one per configured interval, plus the durable
// rate-limit log sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/pricewatch/go-tracker-backend/internal/chat"
	"github.com/pricewatch/go-tracker-backend/internal/config"
	"github.com/pricewatch/go-tracker-backend/internal/mailer"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/notify"
	"github.com/pricewatch/go-tracker-backend/internal/observability"
	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
	"github.com/pricewatch/go-tracker-backend/internal/services"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if cfg.Telegram.BotToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required")
	}
	channel, err := chat.NewChannel(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram channel setup failed")
	}

	var email notify.EmailSender = mailer.Noop{}
	if cfg.Email.Endpoint != "" {
		email = mailer.NewHTTPSender(cfg.Email.Endpoint, cfg.Email.APIKey, cfg.Email.From, 15*time.Second)
	}

	dispatcher := notify.NewDispatcher(channel, email, cfg.PublicBaseURL,
		log.With().Str("component", "dispatcher").Logger())
	dispatcher.BatchSize = cfg.Limits.DispatchBatch
	dispatcher.BatchPause = cfg.Limits.DispatchPause
	dispatcher.MaxAttempts = cfg.Limits.DeliveryRetries
	// Telegram caps bots around 30 messages/second; stay under it.
	dispatcher.Pacer = rate.NewLimiter(rate.Limit(25), 5)

	monitor := &services.MonitorService{
		DB:            db,
		Market:        market.NewHTTPClient(cfg.Fetch.BaseURL, cfg.Fetch.APIKey, cfg.Fetch.Timeout),
		Dispatcher:    dispatcher,
		Log:           log.With().Str("component", "monitor").Logger(),
		BatchSize:     cfg.Monitor.BatchSize,
		BatchDelay:    cfg.Monitor.BatchDelay,
		LowStockLevel: cfg.Monitor.LowStockLevel,
	}

	addLimit := &ratelimit.DurableLog{DB: db}

	log.Info().
		Dur("interval", cfg.Monitor.Interval).
		Str("version", version).
		Msg("monitor starting")

	runOnce(ctx, monitor, addLimit, cfg.Limits.LogRetention)

	ticker := time.NewTicker(cfg.Monitor.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := shutdownOTel(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("otel shutdown failed")
			}
			cancel()
			return
		case <-ticker.C:
			runOnce(ctx, monitor, addLimit, cfg.Limits.LogRetention)
		}
	}
}

// runOnce performs one monitor pass followed by a rate-limit log sweep. A
// failed pass is logged and retried on the next tick.
func runOnce(ctx context.Context, monitor *services.MonitorService, addLimit *ratelimit.DurableLog, retention time.Duration) {
	start := time.Now()
	stats, err := monitor.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("monitor run failed")
		return
	}
	log.Info().
		Int("products", stats.Products).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Int("events", stats.Events).
		Dur("took", time.Since(start)).
		Msg("monitor run complete")

	swept, err := addLimit.Sweep(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("rate-limit log sweep failed")
		return
	}
	if swept > 0 {
		log.Debug().Int64("rows", swept).Msg("rate-limit log swept")
	}
}

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
