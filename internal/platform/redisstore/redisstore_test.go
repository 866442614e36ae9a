package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	_, mr := setupTestRedis(t)

	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewClient(context.Background(), config.RedisConfig{})
	assert.Error(t, err)
}

func TestProgressStore(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	s := NewProgressStore(client, "test:", time.Hour)

	var seqs []int64
	for _, kind := range []domain.EventKind{domain.EventStart, domain.EventPhaseChange, domain.EventComplete} {
		e, err := domain.NewProgressEvent("t1", kind, "", "", map[string]string{"k": string(kind)})
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, e))
		seqs = append(seqs, e.Seq)
	}
	other, err := domain.NewProgressEvent("t2", domain.EventStart, "", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, other))

	assert.Equal(t, []int64{1, 2, 3}, seqs)
	assert.Equal(t, int64(4), other.Seq)

	recent, err := s.Recent(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.EventComplete, recent[0].Kind)
	assert.Equal(t, domain.EventPhaseChange, recent[1].Kind)
	assert.JSONEq(t, `{"k":"complete"}`, string(recent[0].Payload))

	all, err := s.Recent(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.True(t, mr.TTL("test:progress:t1") > 0)

	require.NoError(t, s.DeleteByTask(ctx, "t1"))
	gone, err := s.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestProgressStore_AppendFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	s := NewProgressStore(client, "", 0)
	mr.Close()

	e, err := domain.NewProgressEvent("t1", domain.EventStart, "", "", nil)
	require.NoError(t, err)
	assert.Error(t, s.Append(context.Background(), e))
	assert.Zero(t, e.Seq)
}

func TestBarCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	c := NewBarCache(client, "test:", time.Minute)

	_, hit, err := c.Get(ctx, "600519", 120)
	require.NoError(t, err)
	assert.False(t, hit)

	bars := []domain.Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
	}
	require.NoError(t, c.Set(ctx, "600519", 120, bars))

	got, hit, err := c.Get(ctx, "600519", 120)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, bars, got)

	mr.FastForward(2 * time.Minute)
	_, hit, err = c.Get(ctx, "600519", 120)
	require.NoError(t, err)
	assert.False(t, hit)
}
