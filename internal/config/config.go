// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database paths, rate limiting, the marketplace fetch service,
// delivery channels, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TelegramConfig holds chat channel credentials and webhook settings.
type TelegramConfig struct {
	BotToken      string // TELEGRAM_BOT_TOKEN
	WebhookSecret string // TELEGRAM_WEBHOOK_SECRET (path suffix, optional)
}

// FetchConfig describes the marketplace fetch service the monitor and the
// tracking intake call for live product data.
type FetchConfig struct {
	BaseURL string        // FETCH_BASE_URL
	APIKey  string        // FETCH_API_KEY
	Timeout time.Duration // FETCH_TIMEOUT
}

// EmailConfig describes the transactional email provider.
type EmailConfig struct {
	Endpoint string // EMAIL_ENDPOINT (empty disables the email channel)
	APIKey   string // EMAIL_API_KEY
	From     string // EMAIL_FROM
}

// MonitorConfig tunes the scheduled price monitor.
type MonitorConfig struct {
	Interval      time.Duration // MONITOR_INTERVAL between runs
	BatchSize     int           // products per marketplace batch
	BatchDelay    time.Duration // pause between batches
	LowStockLevel int           // low-stock event threshold (inclusive)
}

// LimitsConfig groups abuse-control knobs.
type LimitsConfig struct {
	IPPerHour       int           // webhook/API requests per IP per hour
	TrackPerHour    int           // new tracked products per user per hour
	MaxTracked      int           // total tracked products per user
	LogRetention    time.Duration // durable rate-limit log retention
	DispatchBatch   int           // recipients per delivery batch
	DispatchPause   time.Duration // pause between delivery batches
	DeliveryRetries int           // attempts per recipient (incl. first)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// App
	DBPath        string // SQLite path
	APIKey        string // pre-shared key for the tracking API
	AffiliateTag  string // appended to buy links
	PublicBaseURL string // base for price-history/deals links
	ImageDir      string // spool dir for fetched product images

	// Resolver
	ResolveTimeout   time.Duration // per short-link resolution request
	ResolveRedirects int           // max redirects followed

	Telegram TelegramConfig
	Fetch    FetchConfig
	Email    EmailConfig
	Monitor  MonitorConfig
	Limits   LimitsConfig

	CORS CORSConfig
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath:        getenv("DB_PATH", "tracker.db"),
		APIKey:        getenv("API_KEY", ""),
		AffiliateTag:  getenv("AFFILIATE_TAG", ""),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "https://pricewatch.example"), "/"),
		ImageDir:      getenv("IMAGE_DIR", "images"),

		ResolveTimeout:   getdur("RESOLVE_TIMEOUT", 5*time.Second),
		ResolveRedirects: getint("RESOLVE_REDIRECTS", 5),

		Telegram: TelegramConfig{
			BotToken:      getenv("TELEGRAM_BOT_TOKEN", ""),
			WebhookSecret: getenv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		Fetch: FetchConfig{
			BaseURL: getenv("FETCH_BASE_URL", "http://localhost:9090"),
			APIKey:  getenv("FETCH_API_KEY", ""),
			Timeout: getdur("FETCH_TIMEOUT", 30*time.Second),
		},
		Email: EmailConfig{
			Endpoint: getenv("EMAIL_ENDPOINT", ""),
			APIKey:   getenv("EMAIL_API_KEY", ""),
			From:     getenv("EMAIL_FROM", "alerts@pricewatch.example"),
		},
		Monitor: MonitorConfig{
			Interval:      getdur("MONITOR_INTERVAL", 30*time.Minute),
			BatchSize:     getint("MONITOR_BATCH_SIZE", 10),
			BatchDelay:    getdur("MONITOR_BATCH_DELAY", time.Second),
			LowStockLevel: getint("MONITOR_LOW_STOCK", 7),
		},
		Limits: LimitsConfig{
			IPPerHour:       getint("LIMIT_IP_PER_HOUR", 120),
			TrackPerHour:    getint("LIMIT_TRACK_PER_HOUR", 5),
			MaxTracked:      getint("LIMIT_MAX_TRACKED", 50),
			LogRetention:    getdur("LIMIT_LOG_RETENTION", 24*time.Hour),
			DispatchBatch:   getint("DISPATCH_BATCH", 100),
			DispatchPause:   getdur("DISPATCH_PAUSE", 500*time.Millisecond),
			DeliveryRetries: getint("DISPATCH_RETRIES", 3),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-tracker-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.ResolveTimeout <= 0 {
		return cfg, errors.New("RESOLVE_TIMEOUT must be > 0")
	}
	if cfg.ResolveRedirects < 1 {
		return cfg, errors.New("RESOLVE_REDIRECTS must be >= 1")
	}
	if cfg.Fetch.Timeout <= 0 {
		return cfg, errors.New("FETCH_TIMEOUT must be > 0")
	}
	if cfg.Monitor.BatchSize < 1 {
		return cfg, errors.New("MONITOR_BATCH_SIZE must be >= 1")
	}
	if cfg.Monitor.Interval <= 0 {
		return cfg, errors.New("MONITOR_INTERVAL must be > 0")
	}
	if cfg.Monitor.LowStockLevel < 0 {
		return cfg, errors.New("MONITOR_LOW_STOCK must be >= 0")
	}
	if cfg.Limits.IPPerHour < 1 || cfg.Limits.TrackPerHour < 1 {
		return cfg, errors.New("rate limits must be >= 1")
	}
	if cfg.Limits.MaxTracked < 1 {
		return cfg, errors.New("LIMIT_MAX_TRACKED must be >= 1")
	}
	if cfg.Limits.LogRetention <= 0 {
		return cfg, errors.New("LIMIT_LOG_RETENTION must be > 0")
	}
	if cfg.Limits.DispatchBatch < 1 {
		return cfg, errors.New("DISPATCH_BATCH must be >= 1")
	}
	if cfg.Limits.DeliveryRetries < 1 {
		return cfg, errors.New("DISPATCH_RETRIES must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
