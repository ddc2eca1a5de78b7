package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"billbatch/internal/testutil"
	"billbatch/pkg/batch"
	"billbatch/pkg/billref"
	"billbatch/pkg/cache"
	"billbatch/pkg/fetch"
	"billbatch/pkg/ocr"
	"billbatch/pkg/session"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// setupOCR serves canned OCR.space responses that always solve the mock
// portal CAPTCHA.
func setupOCR(t *testing.T) *ocr.Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ParsedResults":[{"ParsedText":%q}],"IsErroredOnProcessing":false}`, testutil.MockCaptchaText)
	}))
	t.Cleanup(server.Close)

	client, err := ocr.New(ocr.Config{APIKey: "test-key", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("ocr.New: %v", err)
	}
	return client
}

func buildOrchestrator(t *testing.T, portal *testutil.MockPortal, store *cache.Store, withGas bool) *batch.Orchestrator {
	t.Helper()

	electricProvider, err := session.NewElectricProvider(session.ElectricConfig{
		EntryURL: portal.URL() + "/iescobill",
	})
	if err != nil {
		t.Fatalf("NewElectricProvider: %v", err)
	}

	providers := map[billref.Kind]session.Provider{
		billref.Electric: electricProvider,
	}

	if withGas {
		gasProvider, err := session.NewGasProvider(session.GasConfig{
			LoginURL: portal.URL() + "/login.jsp",
			BillURL:  portal.URL() + "/viewbill",
			OCR:      setupOCR(t),
		})
		if err != nil {
			t.Fatalf("NewGasProvider: %v", err)
		}
		providers[billref.Gas] = gasProvider
	}

	fetcher, err := fetch.New(fetch.Config{
		ElectricBillURL: portal.URL() + "/iescobill/general",
		ElectricReferer: portal.URL() + "/iescobill",
		GasBillURL:      portal.URL() + "/viewbill",
		Timeout:         10 * time.Second,
	})
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}

	orchestrator, err := batch.New(batch.Config{
		Fetcher:   fetcher,
		Providers: providers,
		Cache:     store,
		BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("batch.New: %v", err)
	}
	return orchestrator
}

// TestEndToEndMixedRun resolves electric and gas bills through the full
// stack: session acquisition, CAPTCHA solving via OCR, fetch waves, and
// the final partition.
func TestEndToEndMixedRun(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()

	portal.SetElectricBill("11111111111111", "2,500.00")
	portal.SetGasBill("22222222222", "900.00")

	orchestrator := buildOrchestrator(t, portal, nil, true)

	refs := []billref.Reference{
		{Number: "11111111111111", Kind: billref.Electric},
		{Number: "22222222222", Kind: billref.Gas},
	}

	summary, err := orchestrator.Run(context.Background(), "e2e-mixed", refs, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.SuccessCount != 2 {
		t.Errorf("successCount = %d, want 2; failed: %+v", summary.SuccessCount, summary.FailedBills)
	}
	if summary.TotalAmount != 3400.0 {
		t.Errorf("totalAmount = %v, want 3400.0", summary.TotalAmount)
	}
}

// TestCacheSkipsPortal verifies that a second run over the same references
// resolves entirely from Redis without touching the lookup endpoint.
func TestCacheSkipsPortal(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	portal := testutil.NewMockPortal()
	defer portal.Close()

	portal.SetElectricBill("11111111111111", "100.00")
	portal.SetElectricBill("33333333333333", "250.00")

	store := cache.NewStore(redisClient, time.Minute)
	orchestrator := buildOrchestrator(t, portal, store, false)

	refs := []billref.Reference{
		{Number: "11111111111111", Kind: billref.Electric},
		{Number: "33333333333333", Kind: billref.Electric},
	}
	ctx := context.Background()

	summary1, err := orchestrator.Run(ctx, "e2e-cache-1", refs, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary1.SuccessCount != 2 {
		t.Fatalf("first run successCount = %d, want 2", summary1.SuccessCount)
	}

	// First run: 1 entry page + 2 lookups.
	countAfterFirst := portal.GetRequestCount()
	if countAfterFirst != 3 {
		t.Errorf("requests after first run = %d, want 3", countAfterFirst)
	}

	summary2, err := orchestrator.Run(ctx, "e2e-cache-2", refs, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary2.SuccessCount != 2 || summary2.TotalAmount != 350.0 {
		t.Errorf("second run summary = %+v", summary2)
	}

	// Second run only re-acquires the session; lookups come from cache.
	if got := portal.GetRequestCount(); got != countAfterFirst+1 {
		t.Errorf("requests after second run = %d, want %d", got, countAfterFirst+1)
	}
}

// TestCacheExpiration verifies that an expired entry forces a fresh
// portal lookup.
func TestCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	portal := testutil.NewMockPortal()
	defer portal.Close()

	portal.SetElectricBill("11111111111111", "100.00")

	store := cache.NewStore(redisClient, time.Second)
	orchestrator := buildOrchestrator(t, portal, store, false)

	refs := []billref.Reference{{Number: "11111111111111", Kind: billref.Electric}}
	ctx := context.Background()

	if _, err := orchestrator.Run(ctx, "e2e-ttl-1", refs, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	countAfterFirst := portal.GetRequestCount()

	time.Sleep(1500 * time.Millisecond)

	if _, err := orchestrator.Run(ctx, "e2e-ttl-2", refs, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Entry page + lookup again: the cached amount aged out.
	if got := portal.GetRequestCount(); got != countAfterFirst+2 {
		t.Errorf("requests after expiry = %d, want %d", got, countAfterFirst+2)
	}
}

// TestRetryAgainstFlakyPortal drives the retry wave against injected
// server errors end to end.
func TestRetryAgainstFlakyPortal(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()

	portal.SetElectricBill("11111111111111", "500.00")
	portal.FailLookups("11111111111111", 1, http.StatusServiceUnavailable)

	orchestrator := buildOrchestrator(t, portal, nil, false)

	refs := []billref.Reference{{Number: "11111111111111", Kind: billref.Electric}}
	summary, err := orchestrator.Run(context.Background(), "e2e-retry", refs, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.SuccessCount != 1 {
		t.Errorf("successCount = %d, want 1 after retry", summary.SuccessCount)
	}
	if summary.Details[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", summary.Details[0].Attempts)
	}
}
