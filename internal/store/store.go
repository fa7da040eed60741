// Package store defines the persistent cache contract used by the cache
// orchestrator and its memory, Redis and PostgreSQL implementations.
package store

import (
	"context"
	"io"
)

// Store is a string key/value cache shared by SDK instances.
// Implementations must be thread-safe and support concurrent access.
// Writes are last-write-wins; no atomicity across Get and Set is assumed.
type Store interface {
	// Get returns the value stored under key, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
}

// Backend is a Store owning resources that must be released.
type Backend interface {
	Store
	io.Closer
}
