package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"billbatch/pkg/billref"
)

// setupTestRedis creates a test Redis client, skipping when unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestKey(t *testing.T) {
	tests := []struct {
		ref  billref.Reference
		want string
	}{
		{billref.Reference{Number: "12345678901234", Kind: billref.Electric}, "bill:electric:12345678901234"},
		{billref.Reference{Number: "12345678901", Kind: billref.Gas}, "bill:gas:12345678901"},
	}

	for _, tt := range tests {
		if got := Key(tt.ref); got != tt.want {
			t.Errorf("Key(%v) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	ref := billref.Reference{Number: "12345678901234", Kind: billref.Electric}

	if _, err := store.Get(context.Background(), ref); err != ErrCacheMiss {
		t.Errorf("nil store Get = %v, want ErrCacheMiss", err)
	}
	if err := store.Set(context.Background(), ref, &Entry{Amount: 1}); err != nil {
		t.Errorf("nil store Set = %v, want nil", err)
	}
	if err := store.Delete(context.Background(), ref); err != nil {
		t.Errorf("nil store Delete = %v, want nil", err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	redisClient := setupTestRedis(t)
	store := NewStore(redisClient, time.Minute)
	ctx := context.Background()

	ref := billref.Reference{Number: "12345678901234", Kind: billref.Electric}

	if _, err := store.Get(ctx, ref); err != ErrCacheMiss {
		t.Fatalf("expected miss before set, got %v", err)
	}

	want := &Entry{Amount: 12345.0, RawText: "12,345.00", ResolvedAt: time.Now().UTC().Truncate(time.Second)}
	if err := store.Set(ctx, ref, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != want.Amount || got.RawText != want.RawText {
		t.Errorf("entry = %+v, want %+v", got, want)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, ref); err != ErrCacheMiss {
		t.Errorf("expected miss after delete, got %v", err)
	}
}

func TestStore_CorruptEntry(t *testing.T) {
	redisClient := setupTestRedis(t)
	store := NewStore(redisClient, time.Minute)
	ctx := context.Background()

	ref := billref.Reference{Number: "12345678901", Kind: billref.Gas}
	if err := redisClient.Set(ctx, Key(ref), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	if _, err := store.Get(ctx, ref); err == nil {
		t.Error("expected error for corrupt entry")
	}
}
