package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type labelSet struct {
	Snoozed string `json:"snoozed"`
	Todo    string `json:"todo"`
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "triage:"), mr
}

func TestRedisCache_RoundTripAndExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	var got labelSet
	ok, err := c.GetJSON(ctx, "labels:u1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, "labels:u1", labelSet{Snoozed: "Label_1", Todo: "Label_2"}, time.Minute))
	assert.True(t, mr.Exists("triage:labels:u1"))

	ok, err = c.GetJSON(ctx, "labels:u1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Label_1", got.Snoozed)

	mr.FastForward(2 * time.Minute)
	ok, err = c.GetJSON(ctx, "labels:u1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", 1, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var v int
	ok, err := c.GetJSON(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "labels:u1", labelSet{Todo: "Label_9"}, 0))

	var got labelSet
	ok, err := c.GetJSON(ctx, "labels:u1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Label_9", got.Todo)

	require.NoError(t, c.Delete(ctx, "labels:u1"))
	ok, _ = c.GetJSON(ctx, "labels:u1", &got)
	assert.False(t, ok)
}
