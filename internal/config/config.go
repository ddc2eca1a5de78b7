// Package config loads the server configuration from the environment. A
// .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"billbatch/pkg/logging"
)

// Defaults for the vendor portals. Overridable for testing against a mock.
const (
	DefaultElectricEntryURL = "https://bill.pitc.com.pk/iescobill"
	DefaultElectricBillURL  = "https://bill.pitc.com.pk/iescobill/general"
	DefaultGasLoginURL      = "https://www.sngpl.com.pk/login.jsp?mdids=85"
	DefaultGasBillURL       = "https://www.sngpl.com.pk/viewbill"
)

// Config is the full server configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port string

	// LogLevel and LogPretty configure the global logger.
	LogLevel  logging.LogLevel
	LogPretty bool

	// Electric portal endpoints. The entry page issues the session
	// cookies the lookup endpoint expects.
	ElectricEntryURL string
	ElectricBillURL  string

	// Gas portal endpoints.
	GasLoginURL string
	GasBillURL  string

	// OCRAPIKey authenticates against OCR.space. Required when gas bills
	// are processed; electric-only deployments may leave it empty.
	OCRAPIKey   string
	OCREndpoint string

	// BatchSize is the number of concurrent lookups per wave.
	BatchSize int

	// FetchTimeout bounds each individual bill lookup.
	FetchTimeout time.Duration

	// RedisAddr enables the resolved-amount cache when set. Empty
	// disables caching entirely.
	RedisAddr string
	CacheTTL  time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set externally.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		LogLevel:         logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		LogPretty:        getBool("LOG_PRETTY", false),
		ElectricEntryURL: getEnv("ELECTRIC_ENTRY_URL", DefaultElectricEntryURL),
		ElectricBillURL:  getEnv("ELECTRIC_BILL_URL", DefaultElectricBillURL),
		GasLoginURL:      getEnv("GAS_LOGIN_URL", DefaultGasLoginURL),
		GasBillURL:       getEnv("GAS_BILL_URL", DefaultGasBillURL),
		OCRAPIKey:        os.Getenv("OCR_API_KEY"),
		OCREndpoint:      getEnv("OCR_ENDPOINT", "https://api.ocr.space/parse/image"),
		BatchSize:        getInt("BATCH_SIZE", 20),
		FetchTimeout:     getDuration("FETCH_TIMEOUT", 15*time.Second),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		CacheTTL:         getDuration("CACHE_TTL", 6*time.Hour),
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", cfg.FetchTimeout)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
