package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordOf(content string, expires time.Time) *Record {
	return &Record{StatusCode: 200, Content: content, ExpiresAt: expires}
}

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryLimits{})

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	rec := recordOf("a", time.Now().Add(time.Hour))
	require.NoError(t, s.Set(ctx, "k", rec))

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Same(t, rec, got)

	replacement := recordOf("bb", time.Now().Add(time.Hour))
	require.NoError(t, s.Set(ctx, "k", replacement))
	got, _, _ = s.Get(ctx, "k")
	assert.Same(t, replacement, got, "同键整体替换")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(2), s.Bytes())
}

func TestMemoryStore_EvictsOldestByItemCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryLimits{MaxItems: 3})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), recordOf("x", time.Now())))
	}

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k3", "k4"}, keys)
}

func TestMemoryStore_EvictsOldestByBytes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryLimits{MaxBytes: 10})

	require.NoError(t, s.Set(ctx, "a", recordOf("aaaa", time.Now())))
	require.NoError(t, s.Set(ctx, "b", recordOf("bbbb", time.Now())))
	require.NoError(t, s.Set(ctx, "c", recordOf("cccc", time.Now())))

	keys, _ := s.Keys(ctx)
	assert.Equal(t, []string{"b", "c"}, keys)
	assert.Equal(t, int64(8), s.Bytes())

	err := s.Set(ctx, "huge", recordOf("0123456789abc", time.Now()))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore(MemoryLimits{})

	require.NoError(t, s.Set(ctx, "old", recordOf("1", now.Add(-time.Minute))))
	require.NoError(t, s.Set(ctx, "fresh", recordOf("2", now.Add(time.Minute))))
	require.NoError(t, s.Set(ctx, "older", recordOf("3", now.Add(-time.Hour))))

	n, err := s.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, _ := s.Keys(ctx)
	assert.Equal(t, []string{"fresh"}, keys)
}
