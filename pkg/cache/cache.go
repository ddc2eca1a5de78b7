// Package cache provides a Redis-backed store for resolved bill amounts,
// so re-uploading the same consumer list within the TTL window does not
// hit the vendor portals again.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"billbatch/pkg/billref"
)

var (
	// ErrCacheMiss indicates the reference has no cached amount.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cached payload is corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is one cached bill resolution.
type Entry struct {
	Amount     float64   `json:"amount"`
	RawText    string    `json:"raw_text"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Store caches resolved amounts in Redis with a fixed TTL. A nil *Store is
// valid and behaves as an always-missing cache.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// DefaultTTL is how long a resolved amount stays valid.
const DefaultTTL = 6 * time.Hour

// NewStore creates an amount cache.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

// Key generates the Redis key for a reference.
// Format: bill:<kind>:<number>
func Key(ref billref.Reference) string {
	return fmt.Sprintf("bill:%s:%s", ref.Kind, ref.Number)
}

// Get retrieves the cached amount for a reference.
// Returns ErrCacheMiss when absent or when the store is disabled.
func (s *Store) Get(ctx context.Context, ref billref.Reference) (*Entry, error) {
	if s == nil {
		return nil, ErrCacheMiss
	}

	data, err := s.redis.Get(ctx, Key(ref)).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores a resolved amount. No-op on a disabled store.
func (s *Store) Set(ctx context.Context, ref billref.Reference, entry *Entry) error {
	if s == nil {
		return nil
	}
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, Key(ref), data, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cached amount.
func (s *Store) Delete(ctx context.Context, ref billref.Reference) error {
	if s == nil {
		return nil
	}
	if err := s.redis.Del(ctx, Key(ref)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
