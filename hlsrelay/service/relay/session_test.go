package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewStore(0, 0)
	sess := s.Create("https://example.com/master.m3u8", map[string]string{
		"Referer": "https://example.com/watch",
	})
	require.NotEmpty(t, sess.ID)

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/master.m3u8", got.Target)
	assert.Equal(t, "https://example.com/watch", got.Headers["Referer"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore(0, 0)
	sess := s.Create("https://example.com/a.m3u8", map[string]string{"X-Token": "one"})

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	got.Headers["X-Token"] = "two"
	got.Target = "https://evil.example.com/"

	again, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "one", again.Headers["X-Token"])
	assert.Equal(t, "https://example.com/a.m3u8", again.Target)
}

func TestStore_ExpiredSessionMisses(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewStore(0, time.Minute)
	s.now = func() time.Time { return now }

	sess := s.Create("https://example.com/a.m3u8", nil)

	// The exact boundary counts as expired.
	now = now.Add(time.Minute)
	_, ok := s.Get(sess.ID)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStore_AccessDoesNotExtendLifetime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewStore(0, time.Minute)
	s.now = func() time.Time { return now }

	sess := s.Create("https://example.com/a.m3u8", nil)

	// A stream polling the relay every 45 seconds keeps hitting Get, but
	// the lifetime runs from creation.
	now = now.Add(45 * time.Second)
	_, ok := s.Get(sess.ID)
	require.True(t, ok)

	now = now.Add(45 * time.Second)
	_, ok = s.Get(sess.ID)
	assert.False(t, ok, "session past its TTL should miss even under constant access")
	assert.Zero(t, s.Len())
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewStore(3, time.Hour)
	s.now = func() time.Time { return now }

	first := s.Create("https://example.com/1.m3u8", nil)
	now = now.Add(time.Second)
	second := s.Create("https://example.com/2.m3u8", nil)
	now = now.Add(time.Second)
	third := s.Create("https://example.com/3.m3u8", nil)
	now = now.Add(time.Second)
	fourth := s.Create("https://example.com/4.m3u8", nil)

	_, ok := s.Get(first.ID)
	assert.False(t, ok, "oldest session should have been evicted")
	for _, sess := range []*Session{second, third, fourth} {
		_, ok := s.Get(sess.ID)
		assert.True(t, ok)
	}
	assert.Equal(t, 3, s.Len())
}

func TestStore_CreateClearsExpiredBeforeEvicting(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewStore(2, time.Minute)
	s.now = func() time.Time { return now }

	stale := s.Create("https://example.com/stale.m3u8", nil)
	now = now.Add(30 * time.Second)
	live := s.Create("https://example.com/live.m3u8", nil)

	// stale is 61s old, live only 31s.
	now = now.Add(31 * time.Second)
	fresh := s.Create("https://example.com/fresh.m3u8", nil)

	_, ok := s.Get(stale.ID)
	assert.False(t, ok)
	_, ok = s.Get(live.ID)
	assert.True(t, ok, "live session should survive when an expired one can go instead")
	_, ok = s.Get(fresh.ID)
	assert.True(t, ok)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s := NewStore(0, 0)
	sess := s.Create("https://example.com/a.m3u8", nil)

	s.Delete(sess.ID)
	_, ok := s.Get(sess.ID)
	assert.False(t, ok)

	// Deleting again is a no-op.
	s.Delete(sess.ID)
}

func TestStore_SnapshotNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewStore(0, time.Hour)
	s.now = func() time.Time { return now }

	a := s.Create("https://example.com/a.m3u8", nil)
	now = now.Add(time.Second)
	b := s.Create("https://example.com/b.m3u8", nil)
	now = now.Add(time.Second)
	c := s.Create("https://example.com/c.m3u8", nil)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, c.ID, snap[0].ID)
	assert.Equal(t, b.ID, snap[1].ID)
	assert.Equal(t, a.ID, snap[2].ID)
}
