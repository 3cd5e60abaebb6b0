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

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisStore(client, "")
}

func TestRedisStore_GetSet(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Now().UTC().Truncate(time.Second)
	rec := &Record{
		StatusCode:   200,
		ReasonPhrase: "OK",
		Content:      "data: {\"type\":\"message_stop\"}\n\n",
		ContentType:  "text/event-stream",
		Headers:      map[string][]string{"X-Request-Id": {"r1"}},
		CachedAt:     now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	require.NoError(t, s.Set(ctx, "k1", rec))

	assert.True(t, mr.Exists(DefaultRedisPrefix+"k1"))
	ttl := mr.TTL(DefaultRedisPrefix + "k1")
	assert.Greater(t, ttl, 24*time.Hour, "TTL 覆盖有效期并额外保留")

	raw, err := mr.Get(DefaultRedisPrefix + "k1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"content":"data: {\"type\":\"message_stop\"}\n\n"`, "其他读者看到的是响应原文")

	got, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.ContentType, got.ContentType)
	assert.Equal(t, rec.Headers, got.Headers)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	mr, s := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultRedisPrefix+"bad", "not json"))

	_, found, err := s.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestRedisStore_KeysIgnoresOtherPrefixes(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, s.Set(ctx, "a", &Record{ExpiresAt: exp}))
	require.NoError(t, s.Set(ctx, "b", &Record{ExpiresAt: exp}))
	require.NoError(t, mr.Set("session:xyz", "unrelated"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestRedisStore_Prune(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Set(ctx, "fresh", &Record{ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Set(ctx, "stale", &Record{ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, mr.Set(DefaultRedisPrefix+"bad", "{"))

	n, err := s.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisStore(client, "")
	mr.Close()

	_, _, err = s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "k", &Record{ExpiresAt: time.Now().Add(time.Minute)}))
}
