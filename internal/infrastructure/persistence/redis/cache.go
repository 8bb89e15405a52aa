// Package redis implements the Redis-backed helpers of the notification
// engine.
//
// Key components:
//   - Cache: connection wrapper with the atomic and pub/sub primitives in use
//   - DedupGuard: SETNX claim that makes duplicate suppression race-free
//   - StatusPublisher: fan-out of delivery status changes on pub/sub
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL, when set, takes precedence over Host/Port/Password/DB.
	URL string

	Host     string
	Port     int
	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
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

// Options builds go-redis options. A URL overrides the address fields but
// keeps the pool settings.
func (c Config) Options() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     c.Addr(),
		Password: c.Password,
		DB:       c.DB,
	}
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
		}
		opts = parsed
	}

	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	opts.MaxRetries = c.MaxRetries
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.PoolTimeout = c.PoolTimeout
	return opts, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheInvalidTTL is returned when an invalid TTL is provided.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixNotification is the prefix for notification-related keys.
	PrefixNotification = "notification:"

	// ChannelNotificationStatus carries delivery status changes.
	ChannelNotificationStatus = PrefixNotification + "status"
)

// DedupKey is the claim key for one ticket and template.
func DedupKey(ticketID, templateID string) string {
	return fmt.Sprintf("%sdedup:%s:%s", PrefixNotification, ticketID, templateID)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps a Redis client.
type Cache struct {
	client *redis.Client
	config Config
}

// NewCache connects to Redis and verifies the connection with a ping.
func NewCache(cfg Config) (*Cache, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{
		client: client,
		config: cfg,
	}, nil
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ATOMIC OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SetNX sets a string value only if the key doesn't exist.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		return false, ErrCacheInvalidTTL
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Publish serializes message to JSON and publishes it to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe creates a subscription to channels.
// Call Close on the returned PubSub when done.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
