// Package redis implements the persisted cache tier on Redis. The store
// survives process restarts and is shared between engine instances; the
// cache manager in front of it treats every failure here as a miss.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration

	// PoolTimeout is the timeout for getting a connection from the pool.
	PoolTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStoreConnection is returned when the Redis connection fails.
	ErrStoreConnection = errors.New("cache store: connection failed")

	// ErrStoreKeyEmpty is returned when an empty key is provided.
	ErrStoreKeyEmpty = errors.New("cache store: key cannot be empty")
)

// keyPrefix namespaces every key owned by this store so that Clear and
// pattern scans never touch foreign data in a shared Redis database.
const keyPrefix = "l2:"

// envelope wraps a stored value with its expiry metadata. Redis enforces
// the TTL too; the explicit expiry guards against clock drift between
// writers and survives DUMP/RESTORE style migrations.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// L2Store is the Redis-backed persisted cache tier.
type L2Store struct {
	client *redis.Client
	config Config
}

// NewL2Store connects to Redis and verifies the connection.
func NewL2Store(cfg Config) (*L2Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreConnection, err)
	}

	return &L2Store{
		client: client,
		config: cfg,
	}, nil
}

// Client returns the underlying Redis client for advanced operations.
func (s *L2Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *L2Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *L2Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the stored bytes, the entry's remaining lifetime, and
// whether the key was present. A zero lifetime means the envelope carries
// no explicit expiry. A corrupt or expired envelope is deleted and
// reported as absent.
func (s *L2Store) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if key == "" {
		return nil, 0, false, ErrStoreKeyEmpty
	}

	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = s.client.Del(ctx, keyPrefix+key).Err()
		return nil, 0, false, nil
	}

	var remaining time.Duration
	if !env.ExpiresAt.IsZero() {
		remaining = time.Until(env.ExpiresAt)
		if remaining <= 0 {
			_ = s.client.Del(ctx, keyPrefix+key).Err()
			return nil, 0, false, nil
		}
	}

	return env.Value, remaining, true, nil
}

// Set stores bytes with an absolute expiry. The Redis TTL mirrors the
// envelope expiry so abandoned entries age out on their own.
func (s *L2Store) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return ErrStoreKeyEmpty
	}

	env := envelope{
		Value:     value,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, keyPrefix+key).Err()
	}
	return s.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Delete removes one key.
func (s *L2Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrStoreKeyEmpty
	}
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// DeleteMatching removes every key containing the pattern as a substring
// and returns the number removed. Uses SCAN in batches; can be slow on
// large datasets.
func (s *L2Store) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrStoreKeyEmpty
	}
	return s.deleteByScan(ctx, keyPrefix+"*"+pattern+"*")
}

// Clear removes every key owned by this store.
func (s *L2Store) Clear(ctx context.Context) error {
	_, err := s.deleteByScan(ctx, keyPrefix+"*")
	return err
}

func (s *L2Store) deleteByScan(ctx context.Context, match string) (int, error) {
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()

	removed := 0
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return removed, err
			}
			removed += len(keys)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return removed, err
		}
		removed += len(keys)
	}
	return removed, nil
}

// Keys returns every stored key containing the pattern, prefix stripped.
// Diagnostic helper for the admin surface.
func (s *L2Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*"+pattern+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
