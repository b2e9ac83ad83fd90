package fuser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

func TestFuse_BaseFormula(t *testing.T) {
	out := Fuse(Inputs{Behavioral: 1.0, Temporal: 1.0, Content: 1.0, Criticality: 0})
	assert.InDelta(t, 1.0, out.Base, 1e-9)
	assert.InDelta(t, 1.0, out.Final, 1e-9)
}

func TestFuse_CriticalityGainAmplifiesScore(t *testing.T) {
	low := Fuse(Inputs{Behavioral: 0.5, Temporal: 0, Content: 0, Criticality: 0})
	high := Fuse(Inputs{Behavioral: 0.5, Temporal: 0, Content: 0, Criticality: 1})

	assert.InDelta(t, 0.35*0.5, low.Final, 1e-9)
	assert.InDelta(t, 0.35*0.5*1.5, high.Final, 1e-9)
	assert.Greater(t, high.Final, low.Final)
}

func TestFuse_FinalClippedToOne(t *testing.T) {
	out := Fuse(Inputs{Behavioral: 1, Temporal: 1, Content: 1, Criticality: 1})
	assert.LessOrEqual(t, out.Final, 1.0)
}

func TestFuse_CriticalityClippedOutsideUnitRange(t *testing.T) {
	over := Fuse(Inputs{Behavioral: 0.5, Criticality: 5})
	atOne := Fuse(Inputs{Behavioral: 0.5, Criticality: 1})
	assert.InDelta(t, atOne.Final, over.Final, 1e-9)
}

func TestFuse_SeverityBuckets(t *testing.T) {
	cases := []struct {
		final    float64
		severity storage.Severity
	}{
		{0.90, storage.SeverityCritical},
		{0.85, storage.SeverityCritical},
		{0.70, storage.SeverityHigh},
		{0.65, storage.SeverityHigh},
		{0.40, storage.SeverityMedium},
		{0.35, storage.SeverityMedium},
		{0.20, storage.SeverityLow},
		{0.15, storage.SeverityLow},
		{0.05, storage.SeverityInfo},
	}
	for _, c := range cases {
		assert.Equal(t, c.severity, severityFor(c.final), "final=%v", c.final)
	}
}

func TestFuse_PrimaryMethodTieBreak(t *testing.T) {
	// Equal weighted contributions: content wins over temporal and behavioral.
	out := Fuse(Inputs{Behavioral: 1.0 / 0.35, Temporal: 1.0 / 0.30, Content: 1.0 / 0.35})
	assert.Equal(t, "content", out.PrimaryMethod)

	// Temporal strictly largest.
	out = Fuse(Inputs{Behavioral: 0.1, Temporal: 1.0, Content: 0.1})
	assert.Equal(t, "temporal", out.PrimaryMethod)

	// Behavioral strictly largest.
	out = Fuse(Inputs{Behavioral: 1.0, Temporal: 0.1, Content: 0.1})
	assert.Equal(t, "behavioral", out.PrimaryMethod)
}
