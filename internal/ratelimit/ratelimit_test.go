package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllow_FixedWindow(t *testing.T) {
	l := New()
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Register("messages", Limit{Max: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		res := l.Allow("messages", "peer-1")
		require.True(t, res.Allowed, "call %d should be allowed", i+1)
		require.Equal(t, 5-(i+1), res.Remaining)
	}

	// sixth call within the window is rejected with a retry hint
	res := l.Allow("messages", "peer-1")
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	// after the window has elapsed the counter starts fresh
	now = now.Add(61 * time.Second)
	res = l.Allow("messages", "peer-1")
	require.True(t, res.Allowed)
	require.Equal(t, 4, res.Remaining)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New()
	l.Register("conns", Limit{Max: 1, Window: time.Minute})

	require.True(t, l.Allow("conns", "10.0.0.1").Allowed)
	require.False(t, l.Allow("conns", "10.0.0.1").Allowed)
	require.True(t, l.Allow("conns", "10.0.0.2").Allowed)
}

func TestAllow_StoresAreIndependent(t *testing.T) {
	l := New()
	l.Register("a", Limit{Max: 1, Window: time.Minute})
	l.Register("b", Limit{Max: 1, Window: time.Minute})

	require.True(t, l.Allow("a", "k").Allowed)
	require.True(t, l.Allow("b", "k").Allowed)
	require.False(t, l.Allow("a", "k").Allowed)
}

func TestAllow_UnregisteredStore(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("nope", "k").Allowed)
	}
}

func TestReset(t *testing.T) {
	l := New()
	l.Register("conns", Limit{Max: 1, Window: time.Minute})

	require.True(t, l.Allow("conns", "k").Allowed)
	require.False(t, l.Allow("conns", "k").Allowed)
	l.Reset("conns", "k")
	require.True(t, l.Allow("conns", "k").Allowed)
}

func TestPrune(t *testing.T) {
	l := New()
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Register("conns", Limit{Max: 1, Window: time.Minute})

	l.Allow("conns", "k1")
	l.Allow("conns", "k2")
	require.Len(t, l.entries, 2)

	now = now.Add(2 * time.Minute)
	l.Prune()
	require.Empty(t, l.entries)
}
