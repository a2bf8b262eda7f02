package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
)

// NonceStore holds issued nonces until they are consumed or expire.
type NonceStore interface {
	// Put records nonce with its value for ttl.
	Put(ctx context.Context, nonce, value string, ttl time.Duration) error
	// Take atomically removes nonce and returns its value. ok is false when
	// the nonce was never issued, has expired, or was already taken.
	Take(ctx context.Context, nonce string) (value string, ok bool, err error)
}

type nonceEntry struct {
	value   string
	expires time.Time
}

// MemoryNonces is a process-local NonceStore. Expired entries are pruned
// lazily on Put, so no background sweeper is needed.
type MemoryNonces struct {
	mu      sync.Mutex
	entries map[string]nonceEntry

	nowFunc func() time.Time
}

// NewMemoryNonces returns an empty in-process nonce store.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{
		entries: make(map[string]nonceEntry),
		nowFunc: time.Now,
	}
}

// Put records nonce until now+ttl.
func (m *MemoryNonces) Put(_ context.Context, nonce, value string, ttl time.Duration) error {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}

	m.entries[nonce] = nonceEntry{value: value, expires: now.Add(ttl)}

	return nil
}

// Take removes and returns nonce if it is present and unexpired.
func (m *MemoryNonces) Take(_ context.Context, nonce string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[nonce]
	if !ok {
		return "", false, nil
	}

	delete(m.entries, nonce)

	if !m.nowFunc().Before(e.expires) {
		return "", false, nil
	}

	return e.value, true, nil
}

// redisKeyPrefix namespaces nonce keys in a shared Redis database.
const redisKeyPrefix = "drivedrop:oauth-nonce:"

// RedisNonces keeps nonces in Redis so several drivedrop instances behind a
// load balancer can complete each other's authorization callbacks.
type RedisNonces struct {
	client *redis.Client
}

// NewRedisNonces connects to the Redis server at address.
func NewRedisNonces(address, password string, db int) *RedisNonces {
	return &RedisNonces{
		client: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping checks connectivity.
func (r *RedisNonces) Ping(ctx context.Context) error {
	if _, err := r.client.WithContext(ctx).Ping().Result(); err != nil {
		return fmt.Errorf("oauthstate: redis ping: %w", err)
	}

	return nil
}

// Put stores nonce with a Redis-side expiry.
func (r *RedisNonces) Put(ctx context.Context, nonce, value string, ttl time.Duration) error {
	if err := r.client.WithContext(ctx).Set(redisKeyPrefix+nonce, value, ttl).Err(); err != nil {
		return fmt.Errorf("oauthstate: redis set: %w", err)
	}

	return nil
}

// Take reads then deletes nonce inside a MULTI/EXEC transaction; only the
// caller whose DEL removed the key wins.
func (r *RedisNonces) Take(ctx context.Context, nonce string) (string, bool, error) {
	key := redisKeyPrefix + nonce

	var (
		get *redis.StringCmd
		del *redis.IntCmd
	)

	_, err := r.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		get = pipe.Get(key)
		del = pipe.Del(key)

		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("oauthstate: redis take: %w", err)
	}

	if del.Val() != 1 {
		return "", false, nil
	}

	return get.Val(), true, nil
}

// Close releases the Redis connection pool.
func (r *RedisNonces) Close() error {
	return r.client.Close()
}
