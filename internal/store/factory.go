package store

import (
	"context"
	"fmt"

	mydb "github.com/TimurManjosov/flagship-go/internal/db"
)

// Supported backend types.
const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
)

// NewStore creates a new cache backend based on the given type.
// Supported types: "memory", "redis" (dsn is a redis:// URL), "postgres".
func NewStore(ctx context.Context, storeType, dsn string) (Backend, error) {
	switch storeType {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeRedis:
		client, err := ConnectRedis(ctx, DefaultRedisConfig(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisStore(client, 0), nil
	case TypePostgres:
		pool, err := mydb.NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to prepare cache table: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
