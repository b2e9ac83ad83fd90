// Package detectors — contextual.go
//
// Contextual (repository) detector (spec §4.6): produces a criticality
// multiplier rather than an independent anomaly score. Grounded in shape
// on the teacher's escalation/severity.go threshold-bucketing style
// (ComputeSeverity's ordered threshold comparisons), generalized from a
// process-isolation severity scale to a repository-criticality scale.
package detectors

import (
	"math"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// ContextualLevel is the qualitative criticality level (spec §4.6).
type ContextualLevel string

const (
	LevelLow      ContextualLevel = "low"
	LevelMedium   ContextualLevel = "medium"
	LevelHigh     ContextualLevel = "high"
	LevelCritical ContextualLevel = "critical"
)

// ContextualExplanation is the per-event JSON blob persisted as
// AnomalyRecord.RepositoryContext.
type ContextualExplanation struct {
	Degraded bool            `json:"degraded,omitempty"`
	Timeout  bool            `json:"timeout,omitempty"`
	Features []float64       `json:"features"`
	Level    ContextualLevel `json:"level"`
}

// Contextual implements the contextual (repository) detector.
type Contextual struct{}

// NewContextual constructs a Contextual detector.
func NewContextual() *Contextual { return &Contextual{} }

// Detect computes the repository criticality multiplier r and its
// qualitative level for repo. The returned Result.Score is r itself,
// used by the fuser as the (1 + 0.5·r) weight (spec §4.7).
func (c *Contextual) Detect(repo *storage.RepositoryProfile) (Result, ContextualExplanation) {
	features := extractContextualFeatures(repo)
	r := clip(repo.CriticalityScore, 0, 1)

	var level ContextualLevel
	switch {
	case r >= 0.8:
		level = LevelCritical
	case r >= 0.6:
		level = LevelHigh
	case r >= 0.4:
		level = LevelMedium
	default:
		level = LevelLow
	}

	return Result{Score: r, Features: features}, ContextualExplanation{Features: features, Level: level}
}

// ComputeCriticality derives the cold-start/refreshed criticality score
// for repo from cheap popularity/activity proxies (spec §4.6 features,
// §9 cold-start seeding supplement). Called by the stream processor when
// a repo's cached criticality is absent or stale.
func ComputeCriticality(repo *storage.RepositoryProfile, contributorCount int, hasSecurityPolicy bool, protectedBranches int) float64 {
	normStars := logNormalize(float64(repo.Stars), 10000)
	normForks := logNormalize(float64(repo.Forks), 2000)
	normContributors := logNormalize(float64(contributorCount), 500)
	normActivity := clip(repo.EventsPerHour/50.0, 0, 1)

	policyBonus := 0.0
	if hasSecurityPolicy {
		policyBonus = 0.15
	}
	branchBonus := clip(float64(protectedBranches)/5.0, 0, 1) * 0.1

	weighted := 0.30*normStars + 0.20*normForks + 0.20*normContributors + 0.15*normActivity + policyBonus + branchBonus
	return clip(weighted, 0, 1)
}

func logNormalize(x, scale float64) float64 {
	if x <= 0 {
		return 0
	}
	return clip(math.Log1p(x)/math.Log1p(scale), 0, 1)
}

func extractContextualFeatures(repo *storage.RepositoryProfile) []float64 {
	return []float64{
		repo.CriticalityScore,
		logNormalize(float64(repo.Stars), 10000),
		logNormalize(float64(repo.Forks), 2000),
		0, // contributors normalized — requires caller context, populated by ComputeCriticality's caller when refreshing
		clip(repo.EventsPerHour/50.0, 0, 1),
		0, // security-policy presence — boolean feature surfaced via ComputeCriticality inputs, not cached state
		0, // protected-branch count — same
		0, // dependency-risk proxy — no dependency graph collaborator in scope; reserved
		0, // popularity momentum — requires historical stars delta, not tracked by RepositoryProfile today
	}
}
