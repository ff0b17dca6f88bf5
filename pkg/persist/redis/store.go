// Package redis provides a Redis-backed [persist.LocalStore]. It suits
// deployments where several processes serve the same device profile and must
// agree on the guest document and the current-session pointer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/inkmemory/pkg/persist"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "inkmemory:local:"

var _ persist.LocalStore = (*Store)(nil)

// Store implements [persist.LocalStore] on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to redisURL (redis://host:port/db) and pings the server.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: connect: %w", err)
	}

	return &Store{client: client, prefix: DefaultPrefix}, nil
}

// NewStoreWithClient wraps an existing client. An empty prefix selects
// [DefaultPrefix].
func NewStoreWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get implements [persist.LocalStore].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("redis store: get %q: %w", key, err), err)
	}
	return value, nil
}

// Set implements [persist.LocalStore]. Values never expire.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return wrapClosed(fmt.Errorf("redis store: set %q: %w", key, err), err)
	}
	return nil
}

// Remove implements [persist.LocalStore].
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return wrapClosed(fmt.Errorf("redis store: remove %q: %w", key, err), err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func wrapClosed(wrapped, cause error) error {
	if errors.Is(cause, redis.ErrClosed) {
		return errors.Join(wrapped, persist.ErrClosed)
	}
	return wrapped
}
