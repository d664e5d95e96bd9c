package durable

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lease := NewRedisLease(client, "")
	ctx := context.Background()

	token, ok, err := lease.Acquire(ctx, "default:evt-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("durable:lease:default:evt-1"))

	_, ok, err = lease.Acquire(ctx, "default:evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	require.NoError(t, lease.Release(ctx, "default:evt-1", "someone-else"))
	assert.True(t, mr.Exists("durable:lease:default:evt-1"), "foreign token must not release the lease")

	require.NoError(t, lease.Release(ctx, "default:evt-1", token))
	assert.False(t, mr.Exists("durable:lease:default:evt-1"))

	_, ok, err = lease.Acquire(ctx, "default:evt-2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)
	_, ok, err = lease.Acquire(ctx, "default:evt-2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be acquirable")
}

func TestMemoryLease(t *testing.T) {
	lease := NewMemoryLease()
	now := time.Now()
	lease.now = func() time.Time { return now }
	ctx := context.Background()

	token, ok, _ := lease.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)
	_, ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok, "expired lease should be acquirable")

	_ = lease.Release(ctx, "k", token)
	_, ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "stale token must not release the current holder")
}
