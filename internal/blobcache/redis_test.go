package blobcache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/redsky/pkg/config"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{
			name:  "single part",
			parts: []string{"https://cdn.bsky.app/img/avatar/plain/did:plc:abc/bafk@jpeg"},
		},
		{
			name:  "multiple parts",
			parts: []string{"test", "key", "with", "many", "parts"},
		},
		{
			name:  "empty parts",
			parts: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed1 := HashKey(tt.parts...)
			hashed2 := HashKey(tt.parts...)

			if hashed1 != hashed2 {
				t.Errorf("HashKey() should be consistent, got %s and %s", hashed1, hashed2)
			}
			if len(hashed1) != 32 {
				t.Errorf("HashKey() should return 32 character hex string, got length %d", len(hashed1))
			}
		})
	}

	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "simple key",
			key:      "test",
			expected: "redsky:blob:test",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "redsky:blob:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cache.namespaceKey(tt.key)
			if result != tt.expected {
				t.Errorf("namespaceKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNilCacheIsDisabled(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, err := cache.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, cache.Set(ctx, "u", Blob{}), ErrCacheDisabled)
	assert.ErrorIs(t, cache.Health(ctx), ErrCacheDisabled)
	assert.NoError(t, cache.Close())
}

func TestNewDisabled(t *testing.T) {
	cache, err := New(&config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(&config.RedisConfig{Enabled: true, URL: "not-a-redis-url"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse Redis URL"))
}

func TestBlobEncoding(t *testing.T) {
	blob := Blob{ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}, FetchedAt: 1714560000}

	raw, err := encodeBlob(blob)
	require.NoError(t, err)
	decoded, err := decodeBlob(raw)
	require.NoError(t, err)
	assert.Equal(t, blob, decoded)

	_, err = decodeBlob([]byte{0xc1})
	assert.Error(t, err)
}
