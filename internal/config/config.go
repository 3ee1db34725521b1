// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port               string
	Env                string // "development", "staging", "production"
	LogLevel           string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int

	// Scoring
	BaselineAmount     float64 // amount considered "normal" for the ratio factor
	ActivityWindow     time.Duration
	DeviationThreshold float64 // multiples of the historical average

	// Sensitivity controller
	SensitivityWindow time.Duration

	// Forecasting
	SeriesCapacity  int
	TrendWindow     int
	SmoothingFactor float64

	// Signals
	SignalCapacity int

	// Graph roles
	WhaleVolumeThreshold float64
	HubDegreeThreshold   int

	// Judgment provider (optional)
	JudgmentURL     string
	JudgmentAPIKey  string
	JudgmentModel   string
	JudgmentTimeout time.Duration

	// Outbound notifications (optional)
	NotifyWebhookURL string

	// Tracing (optional, disabled when empty)
	OTELEndpoint string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultBaseline       = 10000.0
	DefaultSeriesCap      = 200
	DefaultTrendWindow    = 10
	DefaultSmoothing      = 0.3
	DefaultSignalCap      = 200
	DefaultWhaleVolume    = 1000000.0
	DefaultHubDegree      = 10
	DefaultRateLimit      = 300
	DefaultRateBurst      = 50
	DefaultActivityWindow = 10 * time.Minute
	DefaultSensWindow     = 60 * time.Second
	DefaultJudgeTimeout   = 5 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", DefaultRateLimit),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", DefaultRateBurst),
		BaselineAmount:       getEnvFloat("BASELINE_AMOUNT", DefaultBaseline),
		ActivityWindow:       getEnvDuration("ACTIVITY_WINDOW", DefaultActivityWindow),
		DeviationThreshold:   getEnvFloat("DEVIATION_THRESHOLD", 5.0),
		SensitivityWindow:    getEnvDuration("SENSITIVITY_WINDOW", DefaultSensWindow),
		SeriesCapacity:       getEnvInt("SERIES_CAPACITY", DefaultSeriesCap),
		TrendWindow:          getEnvInt("TREND_WINDOW", DefaultTrendWindow),
		SmoothingFactor:      getEnvFloat("SMOOTHING_FACTOR", DefaultSmoothing),
		SignalCapacity:       getEnvInt("SIGNAL_CAPACITY", DefaultSignalCap),
		WhaleVolumeThreshold: getEnvFloat("WHALE_VOLUME_THRESHOLD", DefaultWhaleVolume),
		HubDegreeThreshold:   getEnvInt("HUB_DEGREE_THRESHOLD", DefaultHubDegree),
		JudgmentURL:          os.Getenv("JUDGMENT_URL"), // Optional, deterministic scoring if not set
		JudgmentAPIKey:       os.Getenv("JUDGMENT_API_KEY"),
		JudgmentModel:        getEnv("JUDGMENT_MODEL", "llama-3.3-70b-versatile"),
		JudgmentTimeout:      getEnvDuration("JUDGMENT_TIMEOUT", DefaultJudgeTimeout),
		NotifyWebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		OTELEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.BaselineAmount <= 0 {
		return fmt.Errorf("BASELINE_AMOUNT must be positive")
	}
	if c.SeriesCapacity < 2 {
		return fmt.Errorf("SERIES_CAPACITY must be at least 2")
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("SMOOTHING_FACTOR must be in (0, 1]")
	}
	if c.SignalCapacity <= 0 {
		return fmt.Errorf("SIGNAL_CAPACITY must be positive")
	}
	if c.JudgmentURL != "" && c.JudgmentTimeout <= 0 {
		return fmt.Errorf("JUDGMENT_TIMEOUT must be positive when JUDGMENT_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
