package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestClaimEventOnlyOnce(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	first, err := c.ClaimEvent(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.ClaimEvent(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := c.ClaimEvent(ctx, "evt_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestClaimEventExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	claimed, err := c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleaseEventAllowsRetry(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.ClaimEvent(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseEvent(ctx, "evt_1"))

	claimed, err := c.ClaimEvent(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimEventSurfacesConnectionErrors(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	_, err := c.ClaimEvent(context.Background(), "evt_1", time.Hour)
	assert.Error(t, err)
}
