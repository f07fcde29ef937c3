package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tbmatch/tenderbot/internal/cache"
)

func TestGetSetDelete(t *testing.T) {
	c := cache.New()

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := cache.New()
	c.Set("k", "v", -time.Second)

	_, ok := c.Get("k")
	require.False(t, ok)

	// The expired entry is evicted on read.
	require.Equal(t, 0, c.Stats().Size)
}

func TestStats(t *testing.T) {
	c := cache.New()
	c.Set("k", 1, time.Minute)

	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, 1, stats.Size)
	require.EqualValues(t, 2, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
}

func TestUserKey(t *testing.T) {
	require.Equal(t, "user:tg_id:42", cache.UserKey(42))
}
