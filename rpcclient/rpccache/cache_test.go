package rpccache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHashStableForSameInputs(t *testing.T) {
	h1, err := RequestHash("eth_getLogs", uint64(1), uint64(100))
	require.NoError(t, err)
	h2, err := RequestHash("eth_getLogs", uint64(1), uint64(100))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := RequestHash("eth_getLogs", uint64(1), uint64(101))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestLocalCacheSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(10)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestLocalCacheExpiresEntries(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(10)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCacheEvictsLRUWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(2)
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}
