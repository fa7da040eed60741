package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady         = errors.New("redis did not become ready within the given time period")
)

// RedisConfig controls how the Redis backend connects.
type RedisConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
	// TTL of cached payloads; zero keeps them until overwritten.
	TTL time.Duration
}

// DefaultRedisConfig returns the settings used by NewStore.
func DefaultRedisConfig(url string) RedisConfig {
	return RedisConfig{
		URL:            url,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// redisClient is the subset of the go-redis client the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps cache payloads in Redis.
type RedisStore struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// ConnectRedis parses cfg.URL and pings the server, retrying up to
// cfg.RetryAttempts times with cfg.RetryInterval between attempts.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// Get returns nil for missing keys (redis.Nil becomes nil).
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

// Close terminates the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
