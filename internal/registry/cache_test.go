package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetReturnsNilAfterExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	card := &Card{AgentID: "a1"}

	require.NoError(t, c.Set(ctx, "a1", card, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCacheKeysExcludesExpiredEntries(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "live", &Card{AgentID: "live"}, time.Hour))
	require.NoError(t, c.Set(ctx, "dead", &Card{AgentID: "dead"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live"}, keys)
}

func TestMemoryCacheDeleteRemovesEntry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a1", &Card{AgentID: "a1"}, time.Hour))
	require.NoError(t, c.Delete(ctx, "a1"))

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
