// Package batch orchestrates bulk bill resolution: references are split
// into fixed-size chunks, each chunk's fetches run concurrently as one
// wave, and a single bounded retry wave re-fetches everything that did not
// resolve to a positive amount the first time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billbatch/pkg/billref"
	"billbatch/pkg/cache"
	"billbatch/pkg/fetch"
	"billbatch/pkg/session"
)

var (
	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_batch_runs_total",
		Help: "Total batch runs by outcome",
	}, []string{"outcome"})

	batchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bill_batch_retries_total",
		Help: "Total bills queued for the retry wave",
	})

	batchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bill_batch_run_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
)

// Status is a bill's lifecycle state within one run.
type Status string

const (
	// StatusPending means the bill has not been fetched yet.
	StatusPending Status = "pending"

	// StatusPendingRetry means wave 1 did not resolve a positive amount
	// and the bill is queued for the retry wave.
	StatusPendingRetry Status = "pending_retry"

	// StatusSuccess means a positive amount was resolved.
	StatusSuccess Status = "success"

	// StatusZero means the portal answered validly with amount 0. The
	// consumer genuinely owes nothing; this is not a failure.
	StatusZero Status = "zero"

	// StatusFailed means the bill could not be resolved after the retry
	// wave and needs manual review.
	StatusFailed Status = "failed"
)

// BillResult is the mutable per-reference state of a run. One instance
// exists per distinct reference; retries update it in place.
type BillResult struct {
	Number        string       `json:"number"`
	Type          billref.Kind `json:"type"`
	Amount        float64      `json:"amount"`
	ExtractedText string       `json:"extractedText,omitempty"`
	Status        Status       `json:"status"`
	Attempts      int          `json:"attempts"`

	ref     billref.Reference
	lastErr error
}

// Summary is the final tally of one run.
type Summary struct {
	RunID          string        `json:"runId,omitempty"`
	TotalBills     int           `json:"totalBills"`
	SuccessCount   int           `json:"successCount"`
	ZeroCount      int           `json:"zeroCount"`
	FailedCount    int           `json:"failedCount"`
	TotalAmount    float64       `json:"totalAmount"`
	ElapsedSeconds float64       `json:"elapsedSeconds"`
	ZeroBills      []*BillResult `json:"zeroAmountBills"`
	FailedBills    []*BillResult `json:"failedBills"`
	Details        []*BillResult `json:"details"`
}

// Config holds the orchestrator configuration.
type Config struct {
	// Fetcher issues the per-bill portal requests (required).
	Fetcher *fetch.Fetcher

	// Providers acquire sessions per utility type. A run fails when it
	// needs a type with no provider.
	Providers map[billref.Kind]session.Provider

	// Cache serves previously resolved amounts. Nil disables caching.
	Cache *cache.Store

	// BatchSize is the wave width (default 20).
	BatchSize int
}

// Orchestrator runs uploads through the fetch waves.
type Orchestrator struct {
	fetcher   *fetch.Fetcher
	providers map[billref.Kind]session.Provider
	store     *cache.Store
	batchSize int
	logger    zerolog.Logger
}

// DefaultBatchSize is the wave width used when none is configured.
const DefaultBatchSize = 20

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one session provider is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Orchestrator{
		fetcher:   cfg.Fetcher,
		providers: cfg.Providers,
		store:     cfg.Cache,
		batchSize: cfg.BatchSize,
		logger:    log.With().Str("component", "batch-orchestrator").Logger(),
	}, nil
}

// Run resolves all references and reports progress along the way.
//
// Per-item failures never abort the run; only session acquisition failure
// does. The returned summary satisfies successCount + zeroCount +
// failedCount == totalBills: no reference is left pending.
func (o *Orchestrator) Run(ctx context.Context, runID string, refs []billref.Reference, reporter Reporter) (*Summary, error) {
	start := time.Now()
	defer func() {
		batchRunDuration.Observe(time.Since(start).Seconds())
	}()

	if reporter == nil {
		reporter = NopReporter{}
	}

	logger := o.logger.With().Str("run_id", runID).Logger()

	if len(refs) == 0 {
		err := fmt.Errorf("no valid reference numbers")
		reporter.Error(err)
		batchRunsTotal.WithLabelValues("empty").Inc()
		return nil, err
	}

	run := newRunState(runID, refs)

	sessions, err := o.acquireSessions(ctx, refs, logger)
	if err != nil {
		reporter.Error(err)
		batchRunsTotal.WithLabelValues("session_failure").Inc()
		return nil, err
	}

	reporter.Progress(Progress{
		Total:   run.total,
		Message: fmt.Sprintf("Processing %d bills (%d parallel)...", run.total, o.batchSize),
	})

	// Wave 1 over everything.
	o.runWave(ctx, run, run.order, sessions, 1, reporter)

	// Bounded retry wave over whatever did not resolve. Exactly one.
	retry := run.pendingRetry()
	if len(retry) > 0 {
		batchRetriesTotal.Add(float64(len(retry)))
		reporter.Progress(Progress{
			Total:        run.total,
			Processed:    run.processed,
			SuccessCount: run.successCount,
			TotalAmount:  run.totalAmount,
			Message:      fmt.Sprintf("Retrying %d unresolved bills...", len(retry)),
		})

		o.refreshSessionsForRetry(ctx, run, retry, sessions, logger)
		o.runWave(ctx, run, retry, sessions, 2, reporter)
	}

	summary := run.finalize(time.Since(start))

	logger.Info().
		Int("total", summary.TotalBills).
		Int("success", summary.SuccessCount).
		Int("zero", summary.ZeroCount).
		Int("failed", summary.FailedCount).
		Float64("total_amount", summary.TotalAmount).
		Dur("elapsed", time.Since(start)).
		Msg("Batch run complete")

	reporter.Complete(summary)
	batchRunsTotal.WithLabelValues("ok").Inc()
	return summary, nil
}

// acquireSessions obtains one verified session per utility type present in
// the input, probing with the first reference of that type.
func (o *Orchestrator) acquireSessions(ctx context.Context, refs []billref.Reference, logger zerolog.Logger) (map[billref.Kind]*session.Session, error) {
	sessions := make(map[billref.Kind]*session.Session)

	for _, ref := range refs {
		if _, done := sessions[ref.Kind]; done {
			continue
		}

		provider, ok := o.providers[ref.Kind]
		if !ok {
			return nil, fmt.Errorf("no session provider for %s bills", ref.Kind)
		}

		sess, err := provider.Acquire(ctx, ref.Number)
		if err != nil {
			return nil, fmt.Errorf("acquire %s session: %w", ref.Kind, err)
		}

		logger.Info().Str("portal", string(ref.Kind)).Msg("Session acquired")
		sessions[ref.Kind] = sess
	}

	return sessions, nil
}

// refreshSessionsForRetry replaces the gas session when any retry item
// failed on the CAPTCHA; plain zero/timeout retries reuse the session from
// wave 1. The replacement is wholesale and happens strictly between waves.
func (o *Orchestrator) refreshSessionsForRetry(ctx context.Context, run *runState, retry []*BillResult, sessions map[billref.Kind]*session.Session, logger zerolog.Logger) {
	needFresh := make(map[billref.Kind]string)
	for _, item := range retry {
		if errors.Is(item.lastErr, fetch.ErrInvalidCaptcha) {
			needFresh[item.Type] = item.Number
		}
	}

	for kind, probe := range needFresh {
		provider, ok := o.providers[kind]
		if !ok {
			continue
		}

		sess, err := provider.Acquire(ctx, probe)
		if err != nil {
			// Keep the old session; the retry wave still runs and
			// unresolved items surface as failed.
			logger.Warn().Err(err).Str("portal", string(kind)).Msg("Session refresh failed, retrying with previous session")
			continue
		}

		logger.Info().Str("portal", string(kind)).Msg("Session refreshed for retry wave")
		sessions[kind] = sess
	}
}

// runWave processes items in sequential chunks; within a chunk all fetches
// run concurrently and the wave collects every result before the next
// chunk starts.
func (o *Orchestrator) runWave(ctx context.Context, run *runState, items []*BillResult, sessions map[billref.Kind]*session.Session, attempt int, reporter Reporter) {
	for offset := 0; offset < len(items); offset += o.batchSize {
		end := offset + o.batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[offset:end]

		results := make(chan fetch.Result, len(chunk))
		var wg sync.WaitGroup
		for _, item := range chunk {
			if attempt == 1 {
				if entry := o.cachedAmount(ctx, item.ref); entry != nil {
					run.applyCached(item, entry)
					reporter.BillUpdate(run.update(item))
					continue
				}
			}

			wg.Add(1)
			go func(ref billref.Reference) {
				defer wg.Done()
				results <- o.fetcher.Fetch(ctx, ref, sessions[ref.Kind])
			}(item.ref)
		}
		wg.Wait()
		close(results)

		for result := range results {
			item := run.results[result.Reference.Number]
			run.apply(item, result, attempt)

			if item.Status == StatusSuccess && result.Err == nil {
				o.storeAmount(ctx, item)
			}

			reporter.BillUpdate(run.update(item))
		}

		reporter.Progress(Progress{
			Total:        run.total,
			Processed:    run.processed,
			SuccessCount: run.successCount,
			TotalAmount:  run.totalAmount,
			Message: fmt.Sprintf("%d/%d done (%d success, Rs. %.2f)",
				run.processed, run.total, run.successCount, run.totalAmount),
		})
	}
}

// cachedAmount looks up a previously resolved amount; any cache trouble is
// treated as a miss.
func (o *Orchestrator) cachedAmount(ctx context.Context, ref billref.Reference) *cache.Entry {
	entry, err := o.store.Get(ctx, ref)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.logger.Warn().Err(err).Str("reference", ref.Number).Msg("Amount cache read failed")
		}
		return nil
	}
	return entry
}

func (o *Orchestrator) storeAmount(ctx context.Context, item *BillResult) {
	entry := &cache.Entry{
		Amount:     item.Amount,
		RawText:    item.ExtractedText,
		ResolvedAt: time.Now().UTC(),
	}
	if err := o.store.Set(ctx, item.ref, entry); err != nil {
		o.logger.Warn().Err(err).Str("reference", item.Number).Msg("Amount cache write failed")
	}
}

// runState tracks one run's per-reference results and counters.
type runState struct {
	runID        string
	total        int
	processed    int
	successCount int
	totalAmount  float64
	results      map[string]*BillResult
	order        []*BillResult
}

func newRunState(runID string, refs []billref.Reference) *runState {
	run := &runState{
		runID:   runID,
		results: make(map[string]*BillResult, len(refs)),
	}

	for _, ref := range refs {
		if _, seen := run.results[ref.Number]; seen {
			// Duplicate rows in the upload collapse to one result.
			continue
		}
		item := &BillResult{
			Number: ref.Number,
			Type:   ref.Kind,
			Status: StatusPending,
			ref:    ref,
		}
		run.results[ref.Number] = item
		run.order = append(run.order, item)
	}

	run.total = len(run.order)
	return run
}

// apply folds one fetch result into the item's state. Wave 1 leaves
// anything unresolved as pending_retry; the retry wave settles everything
// into a terminal status.
func (run *runState) apply(item *BillResult, result fetch.Result, attempt int) {
	if item.Status == StatusPending {
		run.processed++
	}
	item.Attempts = attempt

	resolved := result.Err == nil && result.Amount > 0
	if resolved {
		item.Amount = result.Amount
		item.ExtractedText = result.RawText
		item.Status = StatusSuccess
		run.successCount++
		run.totalAmount += result.Amount
		return
	}

	if attempt == 1 {
		item.Status = StatusPendingRetry
		item.lastErr = result.Err
		item.ExtractedText = errorText(result)
		return
	}

	// Terminal classification after the retry wave.
	if result.Err == nil {
		item.Status = StatusZero
		item.Amount = 0
		if result.RawText != "" {
			item.ExtractedText = result.RawText
		} else {
			item.ExtractedText = "Zero amount"
		}
		return
	}

	item.Status = StatusFailed
	item.Amount = 0
	item.lastErr = result.Err
	item.ExtractedText = errorText(result)
}

// applyCached settles an item from the amount cache without a fetch.
func (run *runState) applyCached(item *BillResult, entry *cache.Entry) {
	if item.Status == StatusPending {
		run.processed++
	}

	item.Amount = entry.Amount
	item.ExtractedText = entry.RawText
	if entry.Amount > 0 {
		item.Status = StatusSuccess
		run.successCount++
		run.totalAmount += entry.Amount
	} else {
		item.Status = StatusZero
	}
}

func (run *runState) pendingRetry() []*BillResult {
	retry := make([]*BillResult, 0)
	for _, item := range run.order {
		if item.Status == StatusPendingRetry {
			retry = append(retry, item)
		}
	}
	return retry
}

func (run *runState) update(item *BillResult) Update {
	return Update{
		Number:        item.Number,
		Type:          item.Type,
		Amount:        item.Amount,
		Status:        item.Status,
		ExtractedText: item.ExtractedText,
		Attempts:      item.Attempts,
		Index:         run.processed,
	}
}

func (run *runState) finalize(elapsed time.Duration) *Summary {
	summary := &Summary{
		RunID:          run.runID,
		TotalBills:     run.total,
		ElapsedSeconds: elapsed.Seconds(),
		ZeroBills:      []*BillResult{},
		FailedBills:    []*BillResult{},
		Details:        run.order,
	}

	for _, item := range run.order {
		switch item.Status {
		case StatusSuccess:
			summary.SuccessCount++
			summary.TotalAmount += item.Amount
		case StatusZero:
			summary.ZeroCount++
			summary.ZeroBills = append(summary.ZeroBills, item)
		default:
			// A pending item here would be an orchestration bug;
			// report it as failed rather than dropping it.
			item.Status = StatusFailed
			summary.FailedCount++
			summary.FailedBills = append(summary.FailedBills, item)
		}
	}

	return summary
}

// errorText renders a fetch failure the way operators see it in the
// result list.
func errorText(result fetch.Result) string {
	if result.Err == nil {
		return "Zero/Failed"
	}
	var perr *fetch.PortalError
	if errors.As(result.Err, &perr) {
		return perr.Message
	}
	return result.Err.Error()
}
