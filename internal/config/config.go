package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Port        string
	Host        string
	DataDir     string

	// Marketplace API
	MarketplaceEndpoint string
	MarketplaceAPIKey   string
	MarketplaceTimeout  time.Duration
	UserAgent           string
	Locales             []string

	// Retry policy for external calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Call spacing
	PageDelay     time.Duration
	BandDelay     time.Duration
	CategoryDelay time.Duration

	// Harvest limits
	MaxPagesPerBand int
	MaxItemsPerBand int
	ErrorCap        int

	// Normalization
	MinTitleLen      int
	PriceSanityFloor float64
	ConversionRate   float64
	Currency         string

	// Scheduler
	SchedulerTick   time.Duration
	RefreshTick     time.Duration
	StaleWindow     time.Duration
	RefreshLimit    int
	CleanupTick     time.Duration
	RetentionWindow time.Duration
}

func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Port:                getEnv("PORT", "8080"),
		Host:                getEnv("HOST", "0.0.0.0"),
		DataDir:             getEnv("DATA_DIR", "./data"),
		MarketplaceEndpoint: getEnv("MARKETPLACE_ENDPOINT", "https://api.scrapingdog.com/amazon"),
		MarketplaceAPIKey:   getEnv("MARKETPLACE_API_KEY", ""),
		UserAgent:           getEnv("MARKETPLACE_USER_AGENT", "CatalogSyncBot/1.0"),
		Locales:             splitList(getEnv("MARKETPLACE_LOCALES", "in")),
		Currency:            getEnv("TARGET_CURRENCY", "INR"),
	}

	var err error
	if cfg.MarketplaceTimeout, err = getDuration("MARKETPLACE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getDuration("RETRY_BASE_DELAY", "1s"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = getDuration("RETRY_MAX_DELAY", "10s"); err != nil {
		return nil, err
	}
	if cfg.PageDelay, err = getDuration("PAGE_DELAY", "1s"); err != nil {
		return nil, err
	}
	if cfg.BandDelay, err = getDuration("BAND_DELAY", "3s"); err != nil {
		return nil, err
	}
	if cfg.CategoryDelay, err = getDuration("CATEGORY_DELAY", "5s"); err != nil {
		return nil, err
	}
	if cfg.SchedulerTick, err = getDuration("SCHEDULER_TICK", "10m"); err != nil {
		return nil, err
	}
	if cfg.RefreshTick, err = getDuration("REFRESH_TICK", "4h"); err != nil {
		return nil, err
	}
	if cfg.StaleWindow, err = getDuration("STALE_WINDOW", "6h"); err != nil {
		return nil, err
	}
	if cfg.CleanupTick, err = getDuration("CLEANUP_TICK", "24h"); err != nil {
		return nil, err
	}
	if cfg.RetentionWindow, err = getDuration("RETENTION_WINDOW", "720h"); err != nil {
		return nil, err
	}

	if cfg.RetryMaxAttempts, err = getInt("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxPagesPerBand, err = getInt("MAX_PAGES_PER_BAND", 3); err != nil {
		return nil, err
	}
	if cfg.MaxItemsPerBand, err = getInt("MAX_ITEMS_PER_BAND", 20); err != nil {
		return nil, err
	}
	if cfg.ErrorCap, err = getInt("ERROR_CAP", 10); err != nil {
		return nil, err
	}
	if cfg.MinTitleLen, err = getInt("MIN_TITLE_LEN", 10); err != nil {
		return nil, err
	}
	if cfg.RefreshLimit, err = getInt("REFRESH_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.PriceSanityFloor, err = getFloat("PRICE_SANITY_FLOOR", 1000); err != nil {
		return nil, err
	}
	if cfg.ConversionRate, err = getFloat("CONVERSION_RATE", 83); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
