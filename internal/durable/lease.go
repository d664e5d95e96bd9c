package durable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants one worker exclusive execution of a run while duplicate
// deliveries of its task are in flight.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// MemoryLease is an in-process Lease.
type MemoryLease struct {
	mu     sync.Mutex
	now    func() time.Time
	holder map[string]memoryLeaseEntry
}

type memoryLeaseEntry struct {
	token   string
	expires time.Time
}

var _ Lease = (*MemoryLease)(nil)

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{
		now:    time.Now,
		holder: make(map[string]memoryLeaseEntry),
	}
}

func (l *MemoryLease) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if entry, ok := l.holder[key]; ok && now.Before(entry.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.holder[key] = memoryLeaseEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLease) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.holder[key]; ok && entry.token == token {
		delete(l.holder, key)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX, shared by every worker process.
type RedisLease struct {
	client *redis.Client
	prefix string
}

var _ Lease = (*RedisLease)(nil)

func NewRedisLease(client *redis.Client, prefix string) *RedisLease {
	if client == nil {
		panic("durable: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "durable:lease:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("durable: acquire lease %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lease only if token still owns it.
func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("durable: release lease %s: %w", key, err)
	}
	return nil
}
