// Package fuser implements the ScoreFuser of spec §4.7: combines the
// four detector component scores into a final score, buckets it into a
// severity level, and selects the primary detection method.
//
// Grounded on the teacher's escalation/severity.go: ComputeSeverity's
// weighted-sum-then-threshold-bucket shape is carried over directly,
// generalized from the four-term pressure/quorum/integrity/anomaly
// composite to the three-term behavioral/temporal/content composite
// scaled by a repository-criticality multiplier.
package fuser

import "github.com/octoanomaly/octoanomaly/internal/storage"

// Weights are the fixed component weights of spec §4.7. Unlike the
// teacher's EscalationConfig.Weight* fields, these are not configurable
// — the spec fixes them as part of the fusion law (§9 open question:
// "this spec fixes it to 1 + 0.5·r").
const (
	WeightBehavioral = 0.35
	WeightTemporal   = 0.30
	WeightContent    = 0.35
	CriticalityGain  = 0.5
)

// Severity thresholds (spec §4.7).
const (
	thresholdCritical = 0.85
	thresholdHigh     = 0.65
	thresholdMedium   = 0.35
	thresholdLow      = 0.15
)

// Inputs are the four component scores, each in [0,1].
type Inputs struct {
	Behavioral float64
	Temporal   float64
	Content    float64
	Criticality float64
}

// Output is the fused result.
type Output struct {
	Base          float64
	Final         float64
	Severity      storage.Severity
	PrimaryMethod string
}

// Fuse computes the final score and severity bucket (spec §4.7).
//
// final = clip(base · (1 + 0.5·r), 0, 1) where base = 0.35b + 0.30t + 0.35c
//
// Primary method is the detector whose weighted contribution is largest;
// ties broken content > temporal > behavioral.
func Fuse(in Inputs) Output {
	wb := WeightBehavioral * in.Behavioral
	wt := WeightTemporal * in.Temporal
	wc := WeightContent * in.Content

	base := wb + wt + wc
	r := clip(in.Criticality, 0, 1)
	final := clip(base*(1+CriticalityGain*r), 0, 1)

	return Output{
		Base:          base,
		Final:         final,
		Severity:      severityFor(final),
		PrimaryMethod: primaryMethod(wb, wt, wc),
	}
}

func severityFor(final float64) storage.Severity {
	switch {
	case final >= thresholdCritical:
		return storage.SeverityCritical
	case final >= thresholdHigh:
		return storage.SeverityHigh
	case final >= thresholdMedium:
		return storage.SeverityMedium
	case final >= thresholdLow:
		return storage.SeverityLow
	default:
		return storage.SeverityInfo
	}
}

// primaryMethod breaks ties in the order content > temporal > behavioral,
// per spec §4.7.
func primaryMethod(wb, wt, wc float64) string {
	if wc >= wt && wc >= wb {
		return "content"
	}
	if wt >= wb {
		return "temporal"
	}
	return "behavioral"
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
