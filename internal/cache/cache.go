// Package cache is a small key/value cache with a Redis implementation and an
// in-process fallback.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Redis wraps go-redis.
type Redis struct{ client *redis.Client }

func NewRedis(client *redis.Client) *Redis { return &Redis{client: client} }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return res, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]memItem{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}
	if m.now().After(item.expiresAt) {
		delete(m.items, key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	m.items[key] = memItem{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) cleanupLocked() {
	now := m.now()
	for k, v := range m.items {
		if now.After(v.expiresAt) {
			delete(m.items, k)
		}
	}
}

// New returns a Redis cache when url is set and the server answers a ping,
// otherwise the in-process fallback. The boolean reports which one was chosen.
func New(ctx context.Context, url string) (Cache, bool, error) {
	if url == "" {
		return NewMemory(), false, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, false, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(), false, nil
	}
	return NewRedis(client), true, nil
}
