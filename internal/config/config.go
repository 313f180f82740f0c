package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	CORS       CORSConfig
	Auth       AuthConfig
	Scraper    ScraperConfig
	Scheduler  SchedulerConfig
	Pipeline   PipelineConfig
	Summarizer SummarizerConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string
}

// AuthConfig holds token signing and bootstrap credentials.
type AuthConfig struct {
	JWTSecret string
	// TokenDuration is how long issued JWTs stay valid.
	TokenDuration time.Duration
	// AdminAPIKey, when set, authorises admin endpoints without a user
	// account. Intended for bootstrap and automation.
	AdminAPIKey string
}

// ScraperConfig holds upstream provider credentials and fetch behaviour.
type ScraperConfig struct {
	BaseURL              string
	APIKey               string
	RequestTimeout       time.Duration
	RunTimeout           time.Duration
	MaxConcurrentScrapes int
	RequestsPerSecond    float64
	// DefaultLimit seeds the adaptive fetch size for users with no history.
	DefaultLimit int
}

// SchedulerConfig is the boot-time scraper schedule. Runtime changes go
// through the admin API and are persisted separately.
type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
}

// PipelineConfig controls the automatic dedup + summarisation pass over
// freshly scraped tweets.
type PipelineConfig struct {
	Enabled   bool
	BatchSize int
}

// SummarizerConfig holds LLM routing and concurrency settings.
type SummarizerConfig struct {
	MaxConcurrentRequests int
	ProviderTimeout       time.Duration
	RetryDelay            time.Duration
	// Providers is the fallback chain, tried in order.
	Providers []ProviderConfig
}

// ProviderConfig describes one LLM backend. Rates are USD per 1K tokens.
type ProviderConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	Model        string
	RateInPer1K  float64
	RateOutPer1K float64
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultTwitterBaseURL    = "https://api.twitterapi.io"
	defaultScraperTimeout    = 30 * time.Second
	defaultScraperRunTimeout = 600 * time.Second
	defaultMaxConcurrent     = 3
	defaultRequestsPerSec    = 5.0
	defaultFetchLimit        = 100

	defaultScraperInterval = 3600
	defaultBatchSize       = 50

	// defaultJWTSecret keeps local development working; production sets
	// JWT_SECRET_KEY and the server warns loudly when it is missing.
	defaultJWTSecret      = "dev-secret-change-me"
	defaultJWTExpireHours = 24

	defaultLLMConcurrency = 5
	defaultLLMTimeout     = 30 * time.Second
	defaultLLMRetryDelay  = 2 * time.Second
	defaultProviderChain  = "openrouter,minimax,opensource"
)

// providerDefaults carries built-in endpoints, models and token rates for
// the known backends; every field is overridable per provider via env.
var providerDefaults = map[string]ProviderConfig{
	"openrouter": {
		BaseURL:      "https://openrouter.ai/api/v1",
		Model:        "openai/gpt-4o-mini",
		RateInPer1K:  0.00015,
		RateOutPer1K: 0.0006,
	},
	"minimax": {
		BaseURL:      "https://api.minimax.io/v1",
		Model:        "MiniMax-Text-01",
		RateInPer1K:  0.0002,
		RateOutPer1K: 0.0011,
	},
	"opensource": {
		BaseURL: "http://localhost:8000/v1",
		Model:   "qwen2.5-7b-instruct",
	},
	"claude": {
		Model:        "claude-3-5-haiku-latest",
		RateInPer1K:  0.0008,
		RateOutPer1K: 0.004,
	},
}

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	// Container platforms set PORT; SERVER_PORT works for local dev.
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET_KEY", defaultJWTSecret),
			TokenDuration: defaultJWTExpireHours * time.Hour,
			AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		},
		Scraper: ScraperConfig{
			BaseURL:              getEnv("TWITTER_BASE_URL", defaultTwitterBaseURL),
			APIKey:               os.Getenv("TWITTER_API_KEY"),
			RequestTimeout:       defaultScraperTimeout,
			RunTimeout:           defaultScraperRunTimeout,
			MaxConcurrentScrapes: defaultMaxConcurrent,
			RequestsPerSecond:    defaultRequestsPerSec,
			DefaultLimit:         defaultFetchLimit,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: defaultScraperInterval,
		},
		Pipeline: PipelineConfig{
			Enabled:   true,
			BatchSize: defaultBatchSize,
		},
		Summarizer: SummarizerConfig{
			MaxConcurrentRequests: defaultLLMConcurrency,
			ProviderTimeout:       defaultLLMTimeout,
			RetryDelay:            defaultLLMRetryDelay,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("SCRAPER_REQUEST_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Scraper.RequestTimeout = d
	}

	if v := os.Getenv("SCRAPER_RUN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_RUN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Scraper.RunTimeout = d
	}

	if v := os.Getenv("SCRAPER_MAX_CONCURRENT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_MAX_CONCURRENT: %w", err)
		}
		cfg.Scraper.MaxConcurrentScrapes = n
	}

	if v := os.Getenv("SCRAPER_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return Config{}, fmt.Errorf("invalid SCRAPER_REQUESTS_PER_SECOND: must be a positive number")
		}
		cfg.Scraper.RequestsPerSecond = f
	}

	if v := os.Getenv("SCRAPER_LIMIT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_LIMIT: %w", err)
		}
		cfg.Scraper.DefaultLimit = n
	}

	if v := os.Getenv("SCRAPER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_ENABLED: %w", err)
		}
		cfg.Scheduler.Enabled = b
	}

	if v := os.Getenv("SCRAPER_INTERVAL"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPER_INTERVAL: %w", err)
		}
		cfg.Scheduler.IntervalSeconds = n
	}

	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid JWT_EXPIRE_HOURS: %w", err)
		}
		cfg.Auth.TokenDuration = time.Duration(n) * time.Hour
	}

	if v := os.Getenv("AUTO_SUMMARIZATION_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_SUMMARIZATION_ENABLED: %w", err)
		}
		cfg.Pipeline.Enabled = b
	}

	if v := os.Getenv("AUTO_SUMMARIZATION_BATCH_SIZE"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_SUMMARIZATION_BATCH_SIZE: %w", err)
		}
		cfg.Pipeline.BatchSize = n
	}

	if v := os.Getenv("LLM_MAX_CONCURRENT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_MAX_CONCURRENT: %w", err)
		}
		cfg.Summarizer.MaxConcurrentRequests = n
	}

	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Summarizer.ProviderTimeout = d
	}

	if v := os.Getenv("LLM_RETRY_DELAY_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_RETRY_DELAY_SECONDS: %w", err)
		}
		cfg.Summarizer.RetryDelay = d
	}

	providers, err := loadProviders(getEnv("LLM_PROVIDER_CHAIN", defaultProviderChain))
	if err != nil {
		return Config{}, err
	}
	cfg.Summarizer.Providers = providers

	return cfg, nil
}

// loadProviders resolves the comma-separated chain into provider configs,
// layering env overrides on the built-in defaults.
func loadProviders(chain string) ([]ProviderConfig, error) {
	var providers []ProviderConfig
	for _, name := range splitList(chain) {
		defaults, ok := providerDefaults[name]
		if !ok {
			return nil, fmt.Errorf("unknown LLM provider %q in LLM_PROVIDER_CHAIN", name)
		}

		prefix := envPrefix(name)
		p := ProviderConfig{
			Name:         name,
			APIKey:       os.Getenv(prefix + "_API_KEY"),
			BaseURL:      getEnv(prefix+"_BASE_URL", defaults.BaseURL),
			Model:        getEnv(prefix+"_MODEL", defaults.Model),
			RateInPer1K:  defaults.RateInPer1K,
			RateOutPer1K: defaults.RateOutPer1K,
		}

		if v := os.Getenv(prefix + "_RATE_IN"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				return nil, fmt.Errorf("invalid %s_RATE_IN: must be a non-negative number", prefix)
			}
			p.RateInPer1K = f
		}
		if v := os.Getenv(prefix + "_RATE_OUT"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				return nil, fmt.Errorf("invalid %s_RATE_OUT: must be a non-negative number", prefix)
			}
			p.RateOutPer1K = f
		}

		providers = append(providers, p)
	}
	return providers, nil
}

// envPrefix maps a provider name to its environment variable prefix.
func envPrefix(name string) string {
	if name == "claude" {
		return "ANTHROPIC"
	}
	return strings.ToUpper(name)
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
