package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

func TestContextual_LevelBucketing(t *testing.T) {
	c := NewContextual()
	cases := []struct {
		score float64
		level ContextualLevel
	}{
		{0.9, LevelCritical},
		{0.8, LevelCritical},
		{0.65, LevelHigh},
		{0.6, LevelHigh},
		{0.45, LevelMedium},
		{0.4, LevelMedium},
		{0.1, LevelLow},
	}
	for _, c2 := range cases {
		result, expl := c.Detect(&storage.RepositoryProfile{CriticalityScore: c2.score})
		assert.Equal(t, c2.level, expl.Level, "score=%v", c2.score)
		assert.InDelta(t, c2.score, result.Score, 1e-9)
	}
}

func TestComputeCriticality_ZeroInputsIsZero(t *testing.T) {
	score := ComputeCriticality(&storage.RepositoryProfile{}, 0, false, 0)
	assert.Zero(t, score)
}

func TestComputeCriticality_PopularActiveRepoScoresHigher(t *testing.T) {
	popular := ComputeCriticality(&storage.RepositoryProfile{Stars: 50000, Forks: 10000, EventsPerHour: 200}, 300, true, 5)
	quiet := ComputeCriticality(&storage.RepositoryProfile{Stars: 3, Forks: 0, EventsPerHour: 0.1}, 1, false, 0)

	assert.Greater(t, popular, quiet)
	assert.LessOrEqual(t, popular, 1.0)
}

func TestComputeCriticality_SecurityPolicyAddsBonus(t *testing.T) {
	repo := &storage.RepositoryProfile{Stars: 100, Forks: 10, EventsPerHour: 5}
	without := ComputeCriticality(repo, 10, false, 0)
	with := ComputeCriticality(repo, 10, true, 0)
	assert.Greater(t, with, without)
}
