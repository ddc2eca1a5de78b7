package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want 20", cfg.BatchSize)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Errorf("FetchTimeout = %s, want 15s", cfg.FetchTimeout)
	}
	if cfg.ElectricBillURL != DefaultElectricBillURL {
		t.Errorf("ElectricBillURL = %q", cfg.ElectricBillURL)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (cache disabled by default)", cfg.RedisAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", cfg.BatchSize)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("FetchTimeout = %s, want 3s", cfg.FetchTimeout)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty = false, want true")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BATCH_SIZE", "not a number")
	t.Setenv("FETCH_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want default 20", cfg.BatchSize)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Errorf("FetchTimeout = %s, want default 15s", cfg.FetchTimeout)
	}
}

func TestLoad_RejectsNonPositiveBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "-1")

	if _, err := Load(); err == nil {
		t.Error("expected error for negative BATCH_SIZE")
	}
}
