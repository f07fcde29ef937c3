package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tbmatch/tenderbot/internal/ratelimit"
)

func TestSlidingWindow(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(3, time.Minute)
	l.SetNow(func() time.Time { return clock })

	require.True(t, l.Allow(42))
	require.True(t, l.Allow(42))
	require.True(t, l.Allow(42))
	require.False(t, l.Allow(42))

	// Another user has their own window.
	require.True(t, l.Allow(43))

	// Rejected attempts are not recorded, so the window frees up exactly
	// when the oldest accepted request ages out.
	clock = clock.Add(30 * time.Second)
	require.False(t, l.Allow(42))

	clock = clock.Add(31 * time.Second)
	require.True(t, l.Allow(42))
}

func TestPeriodHint(t *testing.T) {
	l := ratelimit.New(1, 45*time.Second)
	require.Equal(t, 45*time.Second, l.Period())
}
