// Package dedup provides seen sets: "have we already acted on this key?"
// Milestones and change-event delivery use them for at-most-once handling.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"companion-workers/internal/common/database"

	"github.com/redis/go-redis/v9"
)

// SeenSet records keys. MarkSeen reports true only for the first caller.
type SeenSet interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
	// Forget removes key so it may fire again.
	Forget(ctx context.Context, key string) error
}

// MemorySeenSet is a process-local seen set. A zero TTL keeps keys for the
// life of the process.
type MemorySeenSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

func NewMemorySeenSet(ttl time.Duration) *MemorySeenSet {
	return &MemorySeenSet{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

func (m *MemorySeenSet) MarkSeen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if at, ok := m.keys[key]; ok && (m.ttl <= 0 || now.Sub(at) < m.ttl) {
		return false, nil
	}
	m.keys[key] = now
	if m.ttl > 0 && len(m.keys)%1024 == 0 {
		m.evictLocked(now)
	}
	return true, nil
}

func (m *MemorySeenSet) evictLocked(now time.Time) {
	for k, at := range m.keys {
		if now.Sub(at) >= m.ttl {
			delete(m.keys, k)
		}
	}
}

func (m *MemorySeenSet) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

// Len is the number of remembered keys.
func (m *MemorySeenSet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// RedisSeenSet shares a seen set between replicas with SETNX.
type RedisSeenSet struct {
	client    redis.Cmdable
	namespace string
	ttl       time.Duration
}

// NewRedisSeenSet namespaces keys under namespace. A zero TTL never expires keys.
func NewRedisSeenSet(client redis.Cmdable, namespace string, ttl time.Duration) *RedisSeenSet {
	return &RedisSeenSet{client: client, namespace: namespace, ttl: ttl}
}

// FromClient builds a RedisSeenSet using the configured key prefix.
func FromClient(c *database.RedisClient, namespace string, ttl time.Duration) *RedisSeenSet {
	return NewRedisSeenSet(c.Client, c.Key(namespace), ttl)
}

func (r *RedisSeenSet) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *RedisSeenSet) MarkSeen(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Forget removes key so it may fire again.
func (r *RedisSeenSet) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
