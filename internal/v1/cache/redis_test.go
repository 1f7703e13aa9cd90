package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := New("redis://" + mr.Addr())
	require.NoError(t, err)

	return c, mr
}

func TestNew(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	assert.NotNil(t, c.Raw())
	assert.NoError(t, c.Ping(context.Background()))
}

func TestNew_InvalidDSN(t *testing.T) {
	_, err := New("not-a-redis-url")
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New("redis://" + addr)
	assert.Error(t, err)
}

func TestGetSetWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	err := c.SetWithTTL(ctx, "room:abc", "abc", time.Hour)
	require.NoError(t, err)

	val, ok, err := c.Get(ctx, "room:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", val)

	ttl := mr.TTL("room:abc")
	assert.Equal(t, time.Hour, ttl)

	// Expiry turns the key into a miss
	mr.FastForward(time.Hour + time.Second)

	_, ok, err = c.Get(ctx, "room:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_Missing(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	val, ok, err := c.Get(context.Background(), "absent")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
}

func TestDelete(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is fine
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestExists(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetWithTTL(ctx, "k", "v", time.Minute))

	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecrement(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "budget", "10", time.Minute))

	n, err := c.Decrement(ctx, "budget", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	n, err = c.Decrement(ctx, "budget", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestCacheDown_ErrorsSurface(t *testing.T) {
	c, mr := newTestClient(t)
	defer func() { _ = c.Close() }()

	mr.Close()

	ctx := context.Background()

	_, _, err := c.Get(ctx, "k")
	assert.Error(t, err)

	assert.Error(t, c.SetWithTTL(ctx, "k", "v", time.Minute))
	assert.Error(t, c.Delete(ctx, "k"))

	_, err = c.Exists(ctx, "k")
	assert.Error(t, err)

	_, err = c.Decrement(ctx, "k", 1)
	assert.Error(t, err)

	assert.Error(t, c.Ping(ctx))
}

func TestCacheDown_BreakerTrips(t *testing.T) {
	c, mr := newTestClient(t)
	defer func() { _ = c.Close() }()

	mr.Close()

	ctx := context.Background()

	// Hammer the dead cache; eventually the breaker opens and calls fail
	// fast without touching the connection at all.
	for i := 0; i < 10; i++ {
		_ = c.Ping(ctx)
	}
	assert.Error(t, c.Ping(ctx))
}
