package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPersister keeps the whole store as one JSON document under a single
// key; a SET replaces it atomically.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string
}

// NewRedisPersister creates a Redis-backed persister.
func NewRedisPersister(client *redis.Client, config RedisConfig) *RedisPersister {
	return &RedisPersister{
		client: client,
		prefix: config.Prefix,
	}
}

func (p *RedisPersister) Backend() string { return "redis" }

// key builds the final Redis key with prefix.
func (p *RedisPersister) key() string {
	const k = "semantic_cache"
	if p.prefix == "" {
		return k
	}
	return p.prefix + ":" + k
}

// Load reads the document. A missing key is an empty store.
func (p *RedisPersister) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	data, err := p.client.Get(ctx, p.key()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeSnapshot(data)
}

// Save replaces the document without expiry.
func (p *RedisPersister) Save(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	data, err := encodeSnapshot(entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := p.client.Set(ctx, p.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is healthy.
func (p *RedisPersister) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return p.client.Ping(ctx).Err()
}
