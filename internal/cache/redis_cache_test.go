package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() {
		_ = client.Close()
	})
	require.NoError(t, client.Ping(context.Background()))
	return client, mr
}

type cachedReport struct {
	Total string `json:"total"`
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	c := NewRedisReportCache(client)
	ctx := context.Background()

	var got cachedReport
	hit, err := c.Get(ctx, "sales:2026-03-01", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "sales:2026-03-01", cachedReport{Total: "360"}, time.Minute))
	hit, err = c.Get(ctx, "sales:2026-03-01", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "360", got.Total)

	mr.FastForward(2 * time.Minute)
	hit, err = c.Get(ctx, "sales:2026-03-01", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisReportCacheGenerationBumps(t *testing.T) {
	client, _ := newTestClient(t)
	c := NewRedisReportCache(client)
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Invalidate(ctx))

	gen, err = c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
}

func TestRedisSequencePerDay(t *testing.T) {
	client, mr := newTestClient(t)
	seq := NewRedisSequence(client)
	ctx := context.Background()

	first, err := seq.Next(ctx, "20260301")
	require.NoError(t, err)
	second, err := seq.Next(ctx, "20260301")
	require.NoError(t, err)
	other, err := seq.Next(ctx, "20260302")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, int64(1), other)
	assert.Greater(t, mr.TTL(sequencePrefix+":20260301"), time.Duration(0))
}

func TestRedisSequenceSeedOnlyRaises(t *testing.T) {
	client, mr := newTestClient(t)
	seq := NewRedisSequence(client)
	ctx := context.Background()

	require.NoError(t, seq.Seed(ctx, "20260302", 16))
	next, err := seq.Next(ctx, "20260302")
	require.NoError(t, err)
	assert.Equal(t, int64(17), next)

	require.NoError(t, seq.Seed(ctx, "20260302", 5))
	next, err = seq.Next(ctx, "20260302")
	require.NoError(t, err)
	assert.Equal(t, int64(18), next)
	assert.Greater(t, mr.TTL(sequencePrefix+":20260302"), time.Duration(0))
}

func TestLocalSequence(t *testing.T) {
	seq := NewLocalSequence()
	a, _ := seq.Next(context.Background(), "d1")
	b, _ := seq.Next(context.Background(), "d1")
	c, _ := seq.Next(context.Background(), "d2")
	assert.Equal(t, []int64{1, 2, 1}, []int64{a, b, c})

	require.NoError(t, seq.Seed(context.Background(), "d1", 40))
	require.NoError(t, seq.Seed(context.Background(), "d1", 3))
	next, _ := seq.Next(context.Background(), "d1")
	assert.Equal(t, int64(41), next)
}

func TestNoopReportCache(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	hit, err := c.Get(context.Background(), "k", &cachedReport{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Set(context.Background(), "k", cachedReport{}, time.Second))
	assert.NoError(t, c.Invalidate(context.Background()))
}
