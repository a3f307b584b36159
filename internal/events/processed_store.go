// Package events deduplicates webhook deliveries.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a delivery key is remembered.
const DefaultTTL = 72 * time.Hour

// ProcessedStore records webhook deliveries that were already handled.
// MarkProcessed returns false when key was seen before. Release forgets a
// key so a failed delivery can be replayed by the provider.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key builds the dedupe key for a provider event.
func Key(source, event, id string) string {
	return fmt.Sprintf("%s:%s:%s", source, event, id)
}

// RedisProcessedStore uses SET NX with a TTL.
type RedisProcessedStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisProcessedStore wraps a Redis client.
func NewRedisProcessedStore(client redis.UniversalClient, ttl time.Duration) *RedisProcessedStore {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisProcessedStore{client: client, prefix: "processed:", ttl: ttl}
}

func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

func (s *RedisProcessedStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("events: release: %w", err)
	}
	return nil
}

// MemoryProcessedStore is the single-process fallback.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryProcessedStore creates an in-memory store.
func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryProcessedStore{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	if len(s.seen) > 10000 {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
	}
	return true, nil
}

func (s *MemoryProcessedStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
	return nil
}

type rowExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProcessedStore keeps keys in the processed_events table. Used when
// the Postgres backend is configured without Redis.
type PostgresProcessedStore struct {
	db rowExecer
}

// NewPostgresProcessedStore wraps a pgx pool.
func NewPostgresProcessedStore(db rowExecer) *PostgresProcessedStore {
	if db == nil {
		panic("events: pgx pool required")
	}
	return &PostgresProcessedStore{db: db}
}

func (s *PostgresProcessedStore) MarkProcessed(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO processed_events (event_key)
		VALUES ($1)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresProcessedStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE event_key = $1`, key); err != nil {
		return fmt.Errorf("events: release: %w", err)
	}
	return nil
}

var (
	_ ProcessedStore = (*RedisProcessedStore)(nil)
	_ ProcessedStore = (*MemoryProcessedStore)(nil)
	_ ProcessedStore = (*PostgresProcessedStore)(nil)
)
