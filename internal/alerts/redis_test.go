package alerts

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/prayer"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisRegistry(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	reg := NewRedisRegistry(rdb, "salahtest-"+uuid.NewString())
	t.Cleanup(func() { _ = reg.CancelAll(context.Background()) })

	day := time.Date(2026, 10, 15, 0, 0, 0, 0, wib)
	ds := schedule(t, day)

	first := Build(day, ds, true, 10*time.Minute, allModes(prayer.ModeAzan))
	require.NoError(t, reg.Replace(ctx, []time.Time{ds.Date}, first))
	pending, err := reg.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(pending))
	assert.True(t, pending[0].FireAt.Equal(first[0].FireAt))

	second := Build(day, ds, false, 0, allModes(prayer.ModeSilent))
	require.NoError(t, reg.Replace(ctx, []time.Time{ds.Date}, second))
	pending, err = reg.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(second), ids(pending))
	for _, r := range pending {
		assert.False(t, r.Payload.WantsSound)
	}

	require.NoError(t, reg.Remove(ctx, pending[:2]...))
	pending, err = reg.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	require.NoError(t, reg.CancelAll(ctx))
	pending, err = reg.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
