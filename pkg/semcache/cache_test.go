package semcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, 6*time.Hour, 0.92)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "nerede yaşıyorum", Normalize("  Nerede   yaşıyorum?  "))
	assert.Equal(t, Normalize("Nerede yaşıyorum?"), Normalize("nerede yaşıyorum"))
}

func TestExactHit(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	cache.Set(ctx, "u1", "Nerede yaşıyorum?", "Ankara'da yaşıyorsun.", nil)

	entry, ok := cache.Get(ctx, "u1", "nerede yaşıyorum", nil)
	require.True(t, ok, "normalization makes casing and punctuation irrelevant")
	assert.Equal(t, "Ankara'da yaşıyorsun.", entry.Answer)

	_, ok = cache.Get(ctx, "u2", "nerede yaşıyorum", nil)
	assert.False(t, ok, "entries are scoped per user")
}

func TestSimilarityHit(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	cache.Set(ctx, "u1", "Nerede oturuyorum?", "Ankara'da.", []float64{1, 0, 0})

	entry, ok := cache.Get(ctx, "u1", "hangi şehirdeyim", []float64{0.99, 0.05, 0})
	require.True(t, ok)
	assert.Equal(t, "Ankara'da.", entry.Answer)

	_, ok = cache.Get(ctx, "u1", "bugün hava nasıl", []float64{0, 1, 0})
	assert.False(t, ok, "dissimilar questions miss")
}

func TestPurgeUser(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	cache.Set(ctx, "u1", "soru bir", "cevap bir", nil)
	cache.Set(ctx, "u1", "soru iki", "cevap iki", nil)
	cache.Set(ctx, "u2", "soru bir", "cevap bir", nil)

	require.NoError(t, cache.PurgeUser(ctx, "u1"))

	_, ok := cache.Get(ctx, "u1", "soru bir", nil)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "u2", "soru bir", nil)
	assert.True(t, ok, "other users keep their entries")
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	cache.Set(context.Background(), "u1", "q", "a", nil)
	_, ok := cache.Get(context.Background(), "u1", "q", nil)
	assert.False(t, ok)
	assert.NoError(t, cache.PurgeUser(context.Background(), "u1"))
}
