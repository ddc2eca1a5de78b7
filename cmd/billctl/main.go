// billctl resolves a file of consumer numbers from the command line,
// without running the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"billbatch/internal/config"
	"billbatch/pkg/batch"
	"billbatch/pkg/billref"
	"billbatch/pkg/cache"
	"billbatch/pkg/fetch"
	"billbatch/pkg/logging"
	"billbatch/pkg/ocr"
	"billbatch/pkg/session"
)

func main() {
	app := &cli.App{
		Name:  "billctl",
		Usage: "resolve utility bill amounts for a file of consumer numbers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "CSV or XLSX file with reference numbers",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "restrict to one utility (electric or gas)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "concurrent lookups per wave (overrides BATCH_SIZE)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the summary as JSON",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "log verbosity (debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if n := c.Int("batch-size"); n > 0 {
		cfg.BatchSize = n
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(c.String("log-level")),
		Output: os.Stderr,
	})

	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}

	refs, err := billref.ParseUpload(c.String("file"), data)
	if err != nil {
		return err
	}
	if kind := c.String("type"); kind != "" {
		refs = filterKind(refs, billref.Kind(kind))
	}
	if len(refs) == 0 {
		return fmt.Errorf("no valid reference numbers in %s", c.String("file"))
	}

	orchestrator, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	var reporter batch.Reporter = batch.NopReporter{}
	if !c.Bool("json") {
		reporter = consoleReporter{}
	}

	summary, err := orchestrator.Run(context.Background(), uuid.NewString(), refs, reporter)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	printSummary(summary)
	return nil
}

func buildOrchestrator(cfg *config.Config) (*batch.Orchestrator, error) {
	providers := map[billref.Kind]session.Provider{}

	electricProvider, err := session.NewElectricProvider(session.ElectricConfig{
		EntryURL: cfg.ElectricEntryURL,
	})
	if err != nil {
		return nil, err
	}
	providers[billref.Electric] = electricProvider

	if cfg.OCRAPIKey != "" {
		ocrClient, err := ocr.New(ocr.Config{
			APIKey:   cfg.OCRAPIKey,
			Endpoint: cfg.OCREndpoint,
		})
		if err != nil {
			return nil, err
		}

		gasProvider, err := session.NewGasProvider(session.GasConfig{
			LoginURL: cfg.GasLoginURL,
			BillURL:  cfg.GasBillURL,
			OCR:      ocrClient,
		})
		if err != nil {
			return nil, err
		}
		providers[billref.Gas] = gasProvider
	}

	var store *cache.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Cache is a convenience for the CLI; run without it.
			log.Warn().Err(err).Msg("Redis unreachable, running without cache")
		} else {
			store = cache.NewStore(redisClient, cfg.CacheTTL)
		}
	}

	fetcher, err := fetch.New(fetch.Config{
		ElectricBillURL: cfg.ElectricBillURL,
		ElectricReferer: cfg.ElectricEntryURL,
		GasBillURL:      cfg.GasBillURL,
		Timeout:         cfg.FetchTimeout,
	})
	if err != nil {
		return nil, err
	}

	return batch.New(batch.Config{
		Fetcher:   fetcher,
		Providers: providers,
		Cache:     store,
		BatchSize: cfg.BatchSize,
	})
}

func filterKind(refs []billref.Reference, kind billref.Kind) []billref.Reference {
	filtered := refs[:0]
	for _, ref := range refs {
		if ref.Kind == kind {
			filtered = append(filtered, ref)
		}
	}
	return filtered
}

// consoleReporter prints progress lines to stderr so stdout stays clean
// for the summary.
type consoleReporter struct{}

func (consoleReporter) Progress(p batch.Progress) {
	fmt.Fprintln(os.Stderr, p.Message)
}

func (consoleReporter) BillUpdate(u batch.Update) {
	if u.Status == batch.StatusSuccess {
		fmt.Fprintf(os.Stderr, "  %s  Rs. %.2f\n", u.Number, u.Amount)
	}
}

func (consoleReporter) Complete(*batch.Summary) {}

func (consoleReporter) Error(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
}

func printSummary(s *batch.Summary) {
	fmt.Printf("Total bills:   %d\n", s.TotalBills)
	fmt.Printf("Success:       %d\n", s.SuccessCount)
	fmt.Printf("Zero amount:   %d\n", s.ZeroCount)
	fmt.Printf("Failed:        %d\n", s.FailedCount)
	fmt.Printf("Total amount:  Rs. %.2f\n", s.TotalAmount)
	fmt.Printf("Elapsed:       %.1fs\n", s.ElapsedSeconds)

	if len(s.FailedBills) > 0 {
		fmt.Println("\nFailed bills:")
		for _, bill := range s.FailedBills {
			fmt.Printf("  %s  %s\n", bill.Number, bill.ExtractedText)
		}
	}
}
