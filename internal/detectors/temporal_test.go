package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

func temporalEvent(repoID int64, ts time.Time) eventmodel.Event {
	return eventmodel.Event{
		Repository: eventmodel.Repository{ID: repoID},
		Timestamp:  ts,
	}
}

func TestTemporal_BurstDetection(t *testing.T) {
	tmp := NewTemporal(TemporalConfig{BurstWindowMin: 5, BurstMinCount: 5, BurstMinRate: 2.0})
	actorWin := &ActorWindow{}
	repoWin := &RepoWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 40; i++ {
		ts := now.Add(-time.Duration(i) * 5 * time.Second)
		actorWin.Add(ActorEvent{Timestamp: ts, RepoID: 1})
		repoWin.Add(RepoEvent{Timestamp: ts, ActorID: 1})
	}

	result, expl := tmp.Detect(temporalEvent(1, now), actorWin, repoWin)
	require.NotEmpty(t, expl.Patterns)
	assert.Equal(t, "activity_burst", expl.Patterns[0].Type)
	assert.Greater(t, result.Score, 0.0)
}

func TestTemporal_BurstRateUsesActualEventSpanNotConfiguredWindow(t *testing.T) {
	tmp := NewTemporal(TemporalConfig{BurstWindowMin: 5, BurstMinCount: 5, BurstMinRate: 2.0})
	actorWin := &ActorWindow{}
	repoWin := &RepoWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// 12 events spread across the last 90 seconds of a 5-minute window:
	// actual rate is 12/1.5=8/min, not 12/5=2.4/min.
	for i := 0; i < 12; i++ {
		ts := now.Add(-time.Duration(i) * (90 * time.Second / 11))
		actorWin.Add(ActorEvent{Timestamp: ts, RepoID: 1})
		repoWin.Add(RepoEvent{Timestamp: ts, ActorID: 1})
	}

	result, expl := tmp.Detect(temporalEvent(1, now), actorWin, repoWin)
	require.NotEmpty(t, expl.Patterns)
	assert.Equal(t, "activity_burst", expl.Patterns[0].Type)
	assert.InDelta(t, 8.0, expl.Patterns[0].RatePerMin, 0.1)
	assert.InDelta(t, 0.75, result.Score, 0.02)
}

func TestTemporal_SparseActivityNoPatterns(t *testing.T) {
	tmp := NewTemporal(TemporalConfig{BurstWindowMin: 5, BurstMinCount: 5, BurstMinRate: 2.0, CoordWindowMin: 10, CoordMinActors: 3, CoordMinEvents: 10, ChiSquarePValue: 0.01})
	actorWin := &ActorWindow{}
	repoWin := &RepoWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	actorWin.Add(ActorEvent{Timestamp: now, RepoID: 1})
	repoWin.Add(RepoEvent{Timestamp: now, ActorID: 1})

	result, expl := tmp.Detect(temporalEvent(1, now), actorWin, repoWin)
	assert.Zero(t, result.Score)
	assert.Empty(t, expl.Patterns)
}

func TestTemporal_CoordinatedActivityAcrossActors(t *testing.T) {
	tmp := NewTemporal(TemporalConfig{CoordWindowMin: 10, CoordMinActors: 3, CoordMinEvents: 5})
	actorWin := &ActorWindow{}
	repoWin := &RepoWindow{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for actor := int64(1); actor <= 4; actor++ {
		for i := 0; i < 2; i++ {
			repoWin.Add(RepoEvent{Timestamp: now.Add(-time.Duration(i) * time.Minute), ActorID: actor})
		}
	}
	actorWin.Add(ActorEvent{Timestamp: now, RepoID: 1})

	result, expl := tmp.Detect(temporalEvent(1, now), actorWin, repoWin)
	require.NotEmpty(t, expl.Patterns)
	assert.Equal(t, "coordinated_activity", expl.Patterns[0].Type)
	assert.Greater(t, result.Score, 0.0)
}
