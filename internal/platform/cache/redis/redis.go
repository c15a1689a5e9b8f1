// Package redis provides a Redis/Valkey cache driver backed by valkey-go.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/valkey-io/valkey-go"

	"github.com/linkvault/linkvault/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any) (cache.Cache, error) {
		cfg := DefaultConfig()
		if config != nil {
			if err := mapstructure.WeakDecode(config, cfg); err != nil {
				return nil, fmt.Errorf("invalid redis cache config: %w", err)
			}
		}
		return New(cfg)
	})
}

// Config holds Redis/Valkey connection configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"-"`

	// DialTimeoutMS mirrors DialTimeout for TOML config maps.
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
}

// DefaultConfig returns sensible defaults for a local Redis/Valkey instance.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		DialTimeout: 5 * time.Second,
	}
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeoutMS > 0 {
		return time.Duration(c.DialTimeoutMS) * time.Millisecond
	}
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 5 * time.Second
}

// Cache is a Redis/Valkey-backed cache.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// New creates a new Redis cache and verifies connectivity with a PING.
// Construction fails fast when the server is unreachable; callers decide
// whether to fall back to another driver.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		Dialer:       net.Dialer{Timeout: cfg.dialTimeout()},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.dialTimeout())
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis health check failed for %s: %w", cfg.Addr, err)
	}

	return &Cache{
		client:     client,
		defaultTTL: cache.DefaultTTL,
	}, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	value, err := resp.AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	cmd := c.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the client connection.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

// Ensure Cache implements cache.Cache.
var _ cache.Cache = (*Cache)(nil)
