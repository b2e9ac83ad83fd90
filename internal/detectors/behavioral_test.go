package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoanomaly/octoanomaly/internal/contrib"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/storage"
)

func pushEvent(actorID int64, ts time.Time) eventmodel.Event {
	return eventmodel.Event{
		ID:        "e1",
		Type:      eventmodel.EventPush,
		Actor:     eventmodel.Actor{ID: actorID},
		Timestamp: ts,
		Payload:   eventmodel.PayloadPush{},
	}
}

func TestBehavioral_ColdPathHighRateTriggersHeuristic(t *testing.T) {
	b := NewBehavioral(BehavioralConfig{WarmN: 10})
	win := &ActorWindow{}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 120; i++ {
		win.Add(ActorEvent{Timestamp: now.Add(-time.Duration(i) * 20 * time.Second), Type: eventmodel.EventPush})
	}

	profile := &storage.UserProfile{N: 0}
	result, expl := b.Detect(pushEvent(1, now), win, profile)

	assert.True(t, expl.ColdPath)
	assert.Greater(t, result.Score, 0.0)
}

func TestBehavioral_WarmPathZScoreFlagsDeviation(t *testing.T) {
	b := NewBehavioral(BehavioralConfig{WarmN: 10, ZScoreThreshold: 3.0})
	win := &ActorWindow{}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		win.Add(ActorEvent{Timestamp: now.Add(-time.Duration(i) * time.Minute), Type: eventmodel.EventPush})
	}

	profile := &storage.UserProfile{N: 100}
	profile.Mean[0] = 2.0
	profile.Variance[0] = 0.25 // sigma = 0.5, so a jump to ~50 events/hour is wildly off

	result, expl := b.Detect(pushEvent(1, now), win, profile)

	assert.False(t, expl.ColdPath)
	assert.Greater(t, result.Score, 0.0)
	require.NotEmpty(t, result.Anomalies)
	assert.Equal(t, "z_score", result.Anomalies[0].Type)
}

func TestBehavioral_WarmPathWithinBaselineScoresZero(t *testing.T) {
	b := NewBehavioral(BehavioralConfig{WarmN: 10, ZScoreThreshold: 3.0})
	win := &ActorWindow{}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	win.Add(ActorEvent{Timestamp: now, Type: eventmodel.EventPush})

	profile := &storage.UserProfile{N: 100}
	profile.Mean[0] = 1.0
	profile.Variance[0] = 1.0

	result, _ := b.Detect(pushEvent(1, now), win, profile)
	assert.Equal(t, 0.0, result.Score)
}

type stubScorer struct{ called bool }

func (s *stubScorer) Name() string { return "stub" }

func (s *stubScorer) Score(req contrib.ScoreRequest) (float64, error) {
	s.called = true
	return 0.75, nil
}

func TestBehavioral_CustomScorerOverridesWarmPath(t *testing.T) {
	scorer := &stubScorer{}
	contrib.RegisterScorer(scorer)

	b := NewBehavioral(BehavioralConfig{WarmN: 10, CustomScorerName: "stub"})
	win := &ActorWindow{}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	win.Add(ActorEvent{Timestamp: now, Type: eventmodel.EventPush})

	profile := &storage.UserProfile{N: 100}
	result, _ := b.Detect(pushEvent(1, now), win, profile)

	assert.True(t, scorer.called)
	assert.InDelta(t, 0.75, result.Score, 1e-9)
}

func TestBehavioral_CustomScorerFallsBackWhenUnregistered(t *testing.T) {
	b := NewBehavioral(BehavioralConfig{WarmN: 10, ZScoreThreshold: 3.0, CustomScorerName: "missing"})
	win := &ActorWindow{}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	win.Add(ActorEvent{Timestamp: now, Type: eventmodel.EventPush})

	profile := &storage.UserProfile{N: 100}
	profile.Mean[0] = 1.0
	profile.Variance[0] = 1.0

	result, _ := b.Detect(pushEvent(1, now), win, profile)
	assert.Equal(t, 0.0, result.Score)
}
