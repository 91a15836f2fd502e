// Package idempotency records which side effects have already happened, so a
// redelivered message does not send an email or publish an event twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a marker is kept when no TTL is configured
const DefaultTTL = 24 * time.Hour

// ErrEmptyKey is returned for an empty marker key
var ErrEmptyKey = errors.New("idempotency: empty key")

// Store records processed markers
type Store interface {
	// Seen reports whether key was marked and has not expired
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key. Marking an existing key is not an error.
	Mark(ctx context.Context, key string) error
}

// RedisStore keeps markers in Redis under a key prefix
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures the RedisStore
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL sets how long markers live
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates a store on client
func NewRedisStore(client redis.UniversalClient, options ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "jobber:processed:",
		ttl:    DefaultTTL,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Seen implements Store
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark implements Store
func (s *RedisStore) Mark(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

// MemoryStore keeps markers in process memory
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A ttl of zero uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		markers: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen implements Store
func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.markers[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expires) {
		delete(s.markers, key)
		return false, nil
	}
	return true, nil
}

// Mark implements Store
func (s *MemoryStore) Mark(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.markers[key]; ok && now.Before(expires) {
		return nil
	}
	s.markers[key] = now.Add(s.ttl)
	return nil
}
