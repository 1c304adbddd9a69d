package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureCache_MarkAndSeen(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewSignatureCache(client)
	ctx := context.Background()

	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

	seen, err := cache.Seen(ctx, sig)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Mark(ctx, sig, time.Hour))

	seen, err = cache.Seen(ctx, sig)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, s.Exists("processed:"+sig))
}

func TestSignatureCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewSignatureCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Mark(ctx, "sig-expire", time.Second))

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	seen, err := cache.Seen(ctx, "sig-expire")
	require.NoError(t, err)
	assert.False(t, seen, "expired signature should be looked up again")
}

func TestSignatureCache_ServerDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewSignatureCache(client)
	s.Close()

	_, err := cache.Seen(context.Background(), "sig")
	assert.Error(t, err)
}
