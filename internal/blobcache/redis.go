// Package blobcache is an optional Redis cache for fetched image bytes. CDN
// blobs are content addressed and never change, so a hit can be served
// without touching the network.
package blobcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/steemit/redsky/pkg/config"
	"github.com/steemit/redsky/pkg/logging"
)

const keyPrefix = "redsky:"

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
	// ErrMiss is returned when a key is not cached
	ErrMiss = fmt.Errorf("cache miss")
)

// Blob is a cached HTTP body
type Blob struct {
	ContentType string `msgpack:"t"`
	Data        []byte `msgpack:"d"`
	FetchedAt   int64  `msgpack:"f"`
}

// Cache wraps Redis client. A nil *Cache is valid and behaves as disabled.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a new Redis cache client. It returns nil, nil when the cache is
// disabled.
func New(cfg *config.RedisConfig) (*Cache, error) {
	logger := logging.WithComponent("blobcache")
	if !cfg.Enabled {
		logger.Info("Redis blob cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.Duration("ttl", cfg.TTL))

	return &Cache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Get retrieves the blob cached for uri
func (c *Cache) Get(ctx context.Context, uri string) (Blob, error) {
	if c == nil || c.client == nil {
		return Blob{}, ErrCacheDisabled
	}
	raw, err := c.client.Get(ctx, c.namespaceKey(HashKey(uri))).Bytes()
	if errors.Is(err, redis.Nil) {
		return Blob{}, ErrMiss
	}
	if err != nil {
		return Blob{}, fmt.Errorf("failed to get blob: %w", err)
	}
	return decodeBlob(raw)
}

// Set stores the blob for uri with the configured TTL
func (c *Cache) Set(ctx context.Context, uri string, blob Blob) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	raw, err := encodeBlob(blob)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.namespaceKey(HashKey(uri)), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set blob: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) namespaceKey(key string) string {
	return keyPrefix + "blob:" + key
}

// HashKey builds a fixed-length key from its parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func encodeBlob(blob Blob) ([]byte, error) {
	raw, err := msgpack.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blob: %w", err)
	}
	return raw, nil
}

func decodeBlob(raw []byte) (Blob, error) {
	var blob Blob
	if err := msgpack.Unmarshal(raw, &blob); err != nil {
		return Blob{}, fmt.Errorf("failed to unmarshal blob: %w", err)
	}
	return blob, nil
}
