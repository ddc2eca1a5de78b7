package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"billbatch/internal/config"
	"billbatch/internal/httpapi"
	"billbatch/pkg/batch"
	"billbatch/pkg/billref"
	"billbatch/pkg/cache"
	"billbatch/pkg/fetch"
	"billbatch/pkg/logging"
	"billbatch/pkg/ocr"
	"billbatch/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: logging.DefaultConfig().Output,
	})

	// Amount cache is optional; without Redis every lookup hits the portal.
	var store *cache.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis connection failed")
		}
		cancel()

		store = cache.NewStore(redisClient, cfg.CacheTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("Amount cache enabled")
	}

	providers := map[billref.Kind]session.Provider{}

	electricProvider, err := session.NewElectricProvider(session.ElectricConfig{
		EntryURL: cfg.ElectricEntryURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Electric session provider setup failed")
	}
	providers[billref.Electric] = electricProvider

	// Gas needs OCR for the CAPTCHA; without an API key the server runs
	// electric-only.
	if cfg.OCRAPIKey != "" {
		ocrClient, err := ocr.New(ocr.Config{
			APIKey:   cfg.OCRAPIKey,
			Endpoint: cfg.OCREndpoint,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("OCR client setup failed")
		}

		gasProvider, err := session.NewGasProvider(session.GasConfig{
			LoginURL: cfg.GasLoginURL,
			BillURL:  cfg.GasBillURL,
			OCR:      ocrClient,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Gas session provider setup failed")
		}
		providers[billref.Gas] = gasProvider
	} else {
		logger.Warn().Msg("OCR_API_KEY not set, gas bills disabled")
	}

	fetcher, err := fetch.New(fetch.Config{
		ElectricBillURL: cfg.ElectricBillURL,
		ElectricReferer: cfg.ElectricEntryURL,
		GasBillURL:      cfg.GasBillURL,
		Timeout:         cfg.FetchTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Fetcher setup failed")
	}

	orchestrator, err := batch.New(batch.Config{
		Fetcher:   fetcher,
		Providers: providers,
		Cache:     store,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Orchestrator setup failed")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewServer(orchestrator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Str("addr", server.Addr).Int("batch_size", cfg.BatchSize).Msg("Starting bill batch server")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
