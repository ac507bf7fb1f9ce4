package ephemeral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddRemovePeer_CleanupAfterIdleTimeout(t *testing.T) {
	m := NewManager(40 * time.Millisecond)
	defer m.Shutdown()

	m.AddPeer("eph:session-1", "p1")
	require.True(t, m.Exists("eph:session-1"))

	m.RemovePeer("eph:session-1", "p1")
	// still alive immediately after the last peer leaves
	require.True(t, m.Exists("eph:session-1"))

	require.Eventually(t, func() bool {
		return !m.Exists("eph:session-1")
	}, time.Second, 5*time.Millisecond)
}

func TestAddPeer_CancelsPendingCleanup(t *testing.T) {
	m := NewManager(40 * time.Millisecond)
	defer m.Shutdown()

	m.AddPeer("eph:a", "p1")
	m.RemovePeer("eph:a", "p1")
	m.AddPeer("eph:a", "p2")

	time.Sleep(80 * time.Millisecond)
	require.True(t, m.Exists("eph:a"), "re-adding a peer must cancel the pending cleanup")
}

func TestRemovePeer_KeepsDocWhilePeersRemain(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	defer m.Shutdown()

	m.AddPeer("eph:a", "p1")
	m.AddPeer("eph:a", "p2")
	m.RemovePeer("eph:a", "p1")

	time.Sleep(60 * time.Millisecond)
	require.True(t, m.Exists("eph:a"))
}

func TestSetExpiration_PastRemovesImmediately(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Shutdown()

	m.AddPeer("eph:a", "p1")
	past := time.Now().Add(-time.Second)
	m.SetExpiration("eph:a", &past)
	require.False(t, m.Exists("eph:a"))
}

func TestSetExpiration_ClampsIdleTimeout(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Shutdown()

	m.AddPeer("eph:a", "p1")
	soon := time.Now().Add(30 * time.Millisecond)
	m.SetExpiration("eph:a", &soon)
	m.RemovePeer("eph:a", "p1")

	require.Eventually(t, func() bool {
		return !m.Exists("eph:a")
	}, time.Second, 5*time.Millisecond)
}

func TestStats(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Shutdown()

	m.AddPeer("eph:a", "p1")
	m.AddPeer("eph:a", "p2")
	m.AddPeer("eph:b", "p1")

	s := m.Stats()
	require.Equal(t, 2, s.Documents)
	require.Equal(t, 3, s.Peers)
}

func TestShutdown(t *testing.T) {
	m := NewManager(time.Minute)
	m.AddPeer("eph:a", "p1")
	m.Shutdown()

	require.False(t, m.Exists("eph:a"))
	// AddPeer after shutdown is a no-op
	m.AddPeer("eph:b", "p1")
	require.False(t, m.Exists("eph:b"))
}
