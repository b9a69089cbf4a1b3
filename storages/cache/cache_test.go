package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjytdlp/mjytdlp/storages"
)

func TestInMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemory(clock)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryNoTTL(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemory(clock)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	clock.Advance(24 * time.Hour)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedisStorage(rdb)

	_, ok, err := c.Get(ctx, "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "https://example.com/watch?v=1", []byte(`{"id":"1"}`), time.Minute))

	// keys never carry the raw input
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "example.com")

	got, ok, err := c.Get(ctx, "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"1"}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedisStorage(rdb)
	require.NoError(t, mr.Set(c.getKey("k"), "not msgpack \xc1"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(c.getKey("k")))
}

func TestNew(t *testing.T) {
	c, err := New(storages.NoneStorageType, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	_, ok, _ := c.Get(context.Background(), "k")
	assert.False(t, ok)

	_, err = New(storages.RedisStorageType, nil, nil)
	assert.Error(t, err)

	_, err = New("memcached", nil, nil)
	assert.Error(t, err)

	c, err = New(storages.InMemoryStorageType, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &InMemory{}, c)
}
