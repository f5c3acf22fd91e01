package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheKeyPrefix prefixes every key written to a shared cache.
const DefaultCacheKeyPrefix = "qrmi:credential:"

// TokenCache shares credentials between processes using the same
// resource. Load returns ok=false on a miss.
type TokenCache interface {
	Load(ctx context.Context, key string) (cred Credential, ok bool, err error)
	Save(ctx context.Context, key string, cred Credential) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process TokenCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Credential
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Credential)}
}

// Load implements TokenCache.
func (c *MemoryCache) Load(_ context.Context, key string) (Credential, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.entries[key]
	return cred, ok, nil
}

// Save implements TokenCache.
func (c *MemoryCache) Save(_ context.Context, key string, cred Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cred
	return nil
}

// Delete implements TokenCache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// cachedCredential is the Redis representation of a Credential.
type cachedCredential struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// RedisCache stores credentials in Redis with a TTL matching their expiry.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithKeyPrefix overrides DefaultCacheKeyPrefix.
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.keyPrefix = prefix
	}
}

// WithCacheClock sets the clock used to compute TTLs.
func WithCacheClock(now func() time.Time) RedisCacheOption {
	return func(c *RedisCache) {
		c.now = now
	}
}

// NewRedisCache connects to the Redis server at url (redis://...).
func NewRedisCache(ctx context.Context, url string, opts ...RedisCacheOption) (*RedisCache, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, opts...), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client:    client,
		keyPrefix: DefaultCacheKeyPrefix,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load implements TokenCache.
func (c *RedisCache) Load(ctx context.Context, key string) (Credential, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var cc cachedCredential
	if err := json.Unmarshal(data, &cc); err != nil {
		return Credential{}, false, fmt.Errorf("invalid cached credential: %w", err)
	}

	cred := Credential{Token: cc.Token}
	if cc.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(cc.ExpiresAt, 0)
	}
	return cred, true, nil
}

// Save implements TokenCache. Credentials that are already expired are
// not written.
func (c *RedisCache) Save(ctx context.Context, key string, cred Credential) error {
	cc := cachedCredential{Token: cred.Token}
	var ttl time.Duration
	if cred.HasExpiry() {
		ttl = cred.ExpiresAt.Sub(c.now())
		if ttl <= 0 {
			return nil
		}
		cc.ExpiresAt = cred.ExpiresAt.Unix()
	}

	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete implements TokenCache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var (
	_ TokenCache = (*MemoryCache)(nil)
	_ TokenCache = (*RedisCache)(nil)
)
