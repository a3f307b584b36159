package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/http/handlers"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/tabular"
	"github.com/wolfman30/clinic-automation/internal/tabular/memstore"
	"github.com/wolfman30/clinic-automation/internal/tabular/pgstore"
	"github.com/wolfman30/clinic-automation/internal/tabular/sheetstore"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// processedTTL bounds how long booking idempotency keys are remembered.
const processedTTL = 7 * 24 * time.Hour

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// Storage is the selected tabular backend plus its liveness probe.
type Storage struct {
	Backend string
	Store   tabular.Store
	// Pool is set for the postgres backend only.
	Pool  *pgxpool.Pool
	Check handlers.HealthCheck
}

// Close releases backend connections.
func (s *Storage) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// BuildStorage opens the backend named by STORE_BACKEND.
func BuildStorage(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.StoreBackend {
	case "", "memory":
		logger.Warn("using in-memory store; records are lost on restart")
		return &Storage{Backend: "memory", Store: memstore.New()}, nil

	case "sheets":
		store, err := sheetstore.NewFromCredentials(ctx, cfg.GoogleCredentialsFile, cfg.GoogleSheetID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: sheets store: %w", err)
		}
		logger.Info("using google sheets store", "sheet_id", cfg.GoogleSheetID)
		return &Storage{
			Backend: "sheets",
			Store:   store,
			Check: func(ctx context.Context) error {
				_, err := store.Scan(ctx, records.TableIntake, tabular.Eq(records.ColFormID, ""))
				return err
			},
		}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: postgres ping: %w", err)
		}
		logger.Info("using postgres store")
		return &Storage{Backend: "postgres", Store: pgstore.New(pool), Pool: pool, Check: pool.Ping}, nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
	}
}

// BuildProcessedStore picks the booking idempotency store: Redis when
// available, then Postgres, then process memory.
func BuildProcessedStore(redisClient *redis.Client, pool *pgxpool.Pool, logger *logging.Logger) events.ProcessedStore {
	if logger == nil {
		logger = logging.Default()
	}
	switch {
	case redisClient != nil:
		return events.NewRedisProcessedStore(redisClient, processedTTL)
	case pool != nil:
		return events.NewPostgresProcessedStore(pool)
	default:
		logger.Warn("booking idempotency keys held in memory only")
		return events.NewMemoryProcessedStore(processedTTL)
	}
}
