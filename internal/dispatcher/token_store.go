package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// TokenStore claims request tokens so concurrent deliveries of the same
// decision reach the platform at most once.
type TokenStore interface {
	// Claim reports whether the caller now owns the token.
	Claim(ctx context.Context, token string) (bool, error)
	// Release gives up a claim after a failed attempt.
	Release(ctx context.Context, token string) error
}

// MemoryTokenStore holds claims in a bounded expiring LRU. It only dedupes
// within one process.
type MemoryTokenStore struct {
	mu     sync.Mutex
	claims *expirable.LRU[string, struct{}]
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore(capacity int, ttl time.Duration) *MemoryTokenStore {
	return &MemoryTokenStore{claims: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *MemoryTokenStore) Claim(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims.Contains(token) {
		return false, nil
	}
	s.claims.Add(token, struct{}{})
	return true, nil
}

func (s *MemoryTokenStore) Release(_ context.Context, token string) error {
	s.claims.Remove(token)
	return nil
}

// RedisTokenStore shares claims between bot instances with SETNX.
type RedisTokenStore struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ TokenStore = (*RedisTokenStore)(nil)

func NewRedisTokenStore(redisURL string, ttl time.Duration) (*RedisTokenStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTokenStore{Client: rdb, TTL: ttl}, nil
}

func redisTokenKey(token string) string {
	return "openguard/token/" + token
}

func (s *RedisTokenStore) Claim(ctx context.Context, token string) (bool, error) {
	return s.Client.SetNX(ctx, redisTokenKey(token), 1, s.TTL).Result()
}

func (s *RedisTokenStore) Release(ctx context.Context, token string) error {
	return s.Client.Del(ctx, redisTokenKey(token)).Err()
}

func (s *RedisTokenStore) Close() error {
	return s.Client.Close()
}
