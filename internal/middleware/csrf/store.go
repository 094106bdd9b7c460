package csrf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	token    string
	issuedAt time.Time
}

// MemoryStore is a process-local Store. Entries older than the TTL are
// ignored on read and dropped by Sweep.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (s *MemoryStore) Put(_ context.Context, key, token string) error {
	s.mu.Lock()
	s.entries[key] = entry{token: token, issuedAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(e, s.now()) {
		return "", false, nil
	}
	return e.token, true, nil
}

// Sweep removes expired entries and reports how many went.
func (s *MemoryStore) Sweep(context.Context) (int64, error) {
	now := s.now()
	var n int64
	s.mu.Lock()
	for k, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, k)
			n++
		}
	}
	s.mu.Unlock()
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.issuedAt) >= s.ttl
}

const redisPrefix = "csrf:"

// RedisStore shares tokens between instances. Redis key expiry replaces Sweep.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key, token string) error {
	if err := s.client.Set(ctx, redisPrefix+key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("csrf: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("csrf: redis get: %w", err)
	}
	return v, true, nil
}
