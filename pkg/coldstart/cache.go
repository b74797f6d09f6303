package coldstart

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-pkgz/lgr"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheSize is the number of embeddings kept by the default in-memory cache
const DefaultCacheSize = 10000

// Cache keeps title embeddings between resolve calls. Implementations must be safe
// for concurrent use, a failed lookup is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vec []float32)
}

// MemoryCache is a bounded in-memory LRU cache
type MemoryCache struct {
	lru *lru.Cache[string, []float32]
}

// NewMemoryCache makes a cache keeping up to size entries, non-positive means DefaultCacheSize
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, _ := lru.New[string, []float32](size) // fails only on non-positive size
	return &MemoryCache{lru: c}
}

// Get returns cached vector and marks it as recently used
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.lru.Get(key)
}

// Put stores vector, evicting the least recently used entry when full
func (c *MemoryCache) Put(_ context.Context, key string, vec []float32) {
	c.lru.Add(key, vec)
}

// Len returns number of cached entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

type noCache struct{}

func (noCache) Get(context.Context, string) ([]float32, bool) { return nil, false }
func (noCache) Put(context.Context, string, []float32)        {}

// RedisCache keeps embeddings in redis, shared between processes.
// Vectors are stored as little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache makes a redis-backed cache and checks the connection
func NewRedisCache(ctx context.Context, addr, prefix string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get returns cached vector, redis errors are logged and treated as a miss
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			lgr.Printf("[WARN] redis get %s: %v", key, err)
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		lgr.Printf("[WARN] bad cached embedding %s: %v", key, err)
		return nil, false
	}
	return vec, true
}

// Put stores vector with configured ttl
func (c *RedisCache) Put(ctx context.Context, key string, vec []float32) {
	if err := c.client.Set(ctx, c.prefix+key, encodeVector(vec), c.ttl).Err(); err != nil {
		lgr.Printf("[WARN] redis set %s: %v", key, err)
	}
}

// Close closes redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid blob size %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
