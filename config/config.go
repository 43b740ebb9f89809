package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerPort     string
	DatabasePath   string
	AdminSecret    string
	SessionTTL     time.Duration
	Timezone       string
	ScrapeTimeout  time.Duration
	ScrapeRenderJS bool
	LogLevel       string
}

// ExtractorConfiguration holds configuration parameters for the bill extractor
type ExtractorConfiguration struct {
	HostMarker     string        // Substring the submitted URL's host must contain
	FetchTimeout   time.Duration // Maximum time to wait for the page fetch
	FetchRateLimit time.Duration // Minimum delay between consecutive page fetches
	RenderJS       bool          // Fetch through a headless browser instead of plain HTTP
}

// DefaultExtractorConfiguration returns production-ready defaults for the
// CNMC bill-comparison pages.
func DefaultExtractorConfiguration() *ExtractorConfiguration {
	return &ExtractorConfiguration{
		HostMarker:     "comparador.cnmc",
		FetchTimeout:   10 * time.Second,
		FetchRateLimit: 500 * time.Millisecond,
		RenderJS:       false,
	}
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DatabasePath:   getEnv("DATABASE_PATH", "data/bills.db"),
		AdminSecret:    getEnv("ADMIN_SECRET", ""),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_HOURS", 12)) * time.Hour,
		Timezone:       getEnv("TIMEZONE", "Europe/Madrid"),
		ScrapeTimeout:  time.Duration(getEnvInt("SCRAPE_TIMEOUT_SECONDS", 10)) * time.Second,
		ScrapeRenderJS: getEnvBool("SCRAPE_RENDER_JS", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// ExtractorConfiguration derives the extractor settings from the loaded config
func (c *Config) ExtractorConfiguration() *ExtractorConfiguration {
	cfg := DefaultExtractorConfiguration()
	if c.ScrapeTimeout > 0 {
		cfg.FetchTimeout = c.ScrapeTimeout
	}
	cfg.RenderJS = c.ScrapeRenderJS
	return cfg
}

// Location resolves the configured timezone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		logrus.Warnf("Invalid TIMEZONE value: %s, falling back to UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %t", key, value, fallback)
		return fallback
	}
	return parsed
}
