package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActorWindow_SinceFiltersByDuration(t *testing.T) {
	w := &ActorWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	w.Add(ActorEvent{Timestamp: now.Add(-2 * time.Hour)})
	w.Add(ActorEvent{Timestamp: now.Add(-30 * time.Minute)})
	w.Add(ActorEvent{Timestamp: now})

	lastHour := w.Since(now, time.Hour)
	assert.Len(t, lastHour, 2)
}

func TestActorWindow_PrunesOlderThanRetention(t *testing.T) {
	w := &ActorWindow{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w.Add(ActorEvent{Timestamp: base})
	w.Add(ActorEvent{Timestamp: base.Add(8 * 24 * time.Hour)})

	assert.Len(t, w.Events, 1)
	assert.Equal(t, base.Add(8*24*time.Hour), w.Events[0].Timestamp)
}

func TestRepoWindow_SinceFiltersByDuration(t *testing.T) {
	w := &RepoWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	w.Add(RepoEvent{Timestamp: now.Add(-20 * time.Minute), ActorID: 1})
	w.Add(RepoEvent{Timestamp: now.Add(-5 * time.Minute), ActorID: 2})

	recent := w.Since(now, 10*time.Minute)
	assert.Len(t, recent, 1)
	assert.Equal(t, int64(2), recent[0].ActorID)
}

func TestWindowStore_LazyCreateAndReuse(t *testing.T) {
	s := NewWindowStore()
	w1 := s.Actor(42)
	w2 := s.Actor(42)
	assert.Same(t, w1, w2)

	r1 := s.Repo(7)
	r2 := s.Repo(7)
	assert.Same(t, r1, r2)
}

func TestWindowStore_EvictIdleRemovesStaleWindows(t *testing.T) {
	s := NewWindowStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	active := s.Actor(1)
	active.Add(ActorEvent{Timestamp: now})

	stale := s.Actor(2)
	stale.Add(ActorEvent{Timestamp: now.Add(-48 * time.Hour)})

	s.EvictIdle(now, 24*time.Hour)

	assert.Same(t, active, s.Actor(1))
	assert.NotSame(t, stale, s.Actor(2))
}
