// Package rpccache is the optional RPC response cache from spec.md §6's
// rpcRequestResults table: requests are keyed by a hash of their method
// and arguments so identical calls (common when multiple fragments'
// adjacents cover the same underlying range) are served from memory or
// Redis instead of round-tripping to the node.
package rpccache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the storage contract both the local and Redis-backed caches
// satisfy.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RequestHash derives the cache key for an RPC method call from its
// method name and ordered arguments.
func RequestHash(method string, args ...any) (string, error) {
	payload, err := json.Marshal(struct {
		Method string `json:"method"`
		Args   []any  `json:"args"`
	}{Method: method, Args: args})
	if err != nil {
		return "", fmt.Errorf("rpccache: marshal request for hashing: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// LocalCache is an in-process LRU with per-entry TTL, used when no Redis
// endpoint is configured.
type LocalCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*lruEntry
	order   *list.List
}

func NewLocalCache(maxSize int) *LocalCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LocalCache{maxSize: maxSize, items: make(map[string]*lruEntry), order: list.New()}
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		c.order.Remove(e.elem)
		delete(c.items, key)
		return nil, false, nil
	}
	c.order.MoveToFront(e.elem)
	return e.value, true, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.elem)
		return nil
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}

	e := &lruEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
	return nil
}

// RedisCache backs the cache with a shared Redis instance, letting
// multiple driver processes share RPC responses for the same chain.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rpccache: redis get: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rpccache: redis set: %w", err)
	}
	return nil
}
