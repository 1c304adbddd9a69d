package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SignatureCache implements ports.ProcessedSignatureCache using Redis.
// It only short-circuits lookups; the ledger's unique tag stays authoritative.
type SignatureCache struct {
	client *goredis.Client
	prefix string
}

// NewSignatureCache creates a new Redis-backed processed-signature cache.
func NewSignatureCache(client *goredis.Client) *SignatureCache {
	return &SignatureCache{
		client: client,
		prefix: "processed:",
	}
}

// Seen reports whether the signature was marked as settled.
func (c *SignatureCache) Seen(ctx context.Context, signature string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+signature).Result()
	if err != nil {
		return false, fmt.Errorf("redis signature exists: %w", err)
	}
	return n == 1, nil
}

// Mark records a settled signature with TTL.
func (c *SignatureCache) Mark(ctx context.Context, signature string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+signature, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis signature mark: %w", err)
	}
	return nil
}
