// Package detectors — temporal.go
//
// Temporal detector (spec §4.4): detects suprathreshold rates,
// coordinated multi-actor activity, and unusual timing distributions.
// Grounded on the teacher's gossip/quorum.go for the "distinct
// participants within a sliding window" counting pattern (there applied
// to distinct reporting peers; here to distinct actors on a repository),
// and on internal/mathutil (adapted from the teacher's entropy.go
// machinery) for the chi-square goodness-of-fit test.
package detectors

import (
	"math"
	"time"

	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/mathutil"
)

// TemporalConfig mirrors config.TemporalConfig.
type TemporalConfig struct {
	BurstWindowMin  int
	BurstMinCount   int
	BurstMinRate    float64
	CoordWindowMin  int
	CoordMinActors  int
	CoordMinEvents  int
	ChiSquarePValue float64
}

// TemporalPattern is the optional sub-record emitted when a burst or
// coordination pattern straddles multiple events (spec §3).
type TemporalPattern struct {
	Type       string  `json:"type"`
	Severity   float64 `json:"severity"`
	ActorCount int     `json:"actor_count,omitempty"`
	EventCount int     `json:"event_count,omitempty"`
	RatePerMin float64 `json:"rate_per_min,omitempty"`
}

// TemporalExplanation is the per-event JSON blob persisted as
// AnomalyRecord.TemporalAnalysis.
type TemporalExplanation struct {
	Degraded bool              `json:"degraded,omitempty"`
	Timeout  bool              `json:"timeout,omitempty"`
	Features []float64         `json:"features"`
	Patterns []TemporalPattern `json:"patterns,omitempty"`
}

// Temporal implements the temporal detector.
type Temporal struct {
	cfg TemporalConfig
}

// NewTemporal constructs a Temporal detector with the given tunables.
func NewTemporal(cfg TemporalConfig) *Temporal {
	return &Temporal{cfg: cfg}
}

// Detect scores ev using the actor's and repository's sliding windows.
// Both windows must already include ev.
func (t *Temporal) Detect(ev eventmodel.Event, actorWin *ActorWindow, repoWin *RepoWindow) (Result, TemporalExplanation) {
	now := ev.Timestamp
	var patterns []TemporalPattern
	var severities []float64

	burstWindow := time.Duration(t.cfg.BurstWindowMin) * time.Minute
	recentForActorRepo := actorWin.Since(now, burstWindow)
	repoScoped := 0
	var oldestRepoScoped time.Time
	for _, e := range recentForActorRepo {
		if e.RepoID == ev.Repository.ID {
			repoScoped++
			if oldestRepoScoped.IsZero() || e.Timestamp.Before(oldestRepoScoped) {
				oldestRepoScoped = e.Timestamp
			}
		}
	}
	burstRate := rateOverSpan(repoScoped, oldestRepoScoped, now)
	if repoScoped >= t.cfg.BurstMinCount && burstRate >= t.cfg.BurstMinRate {
		sev := clip((burstRate-2.0)/8.0, 0, 1)
		severities = append(severities, sev)
		patterns = append(patterns, TemporalPattern{Type: "activity_burst", Severity: sev, EventCount: repoScoped, RatePerMin: burstRate})
	}

	coordWindow := time.Duration(t.cfg.CoordWindowMin) * time.Minute
	coordEvents := repoWin.Since(now, coordWindow)
	distinctActors := map[int64]bool{}
	for _, e := range coordEvents {
		distinctActors[e.ActorID] = true
	}
	if len(distinctActors) >= t.cfg.CoordMinActors && len(coordEvents) >= t.cfg.CoordMinEvents {
		sev := clip(float64(len(distinctActors))/10.0, 0, 1)
		severities = append(severities, sev)
		patterns = append(patterns, TemporalPattern{Type: "coordinated_activity", Severity: sev, ActorCount: len(distinctActors), EventCount: len(coordEvents)})
	}

	last7d := actorWin.Since(now, 7*24*time.Hour)
	if len(last7d) >= 20 {
		var hourCounts [24]uint64
		for _, e := range last7d {
			hourCounts[e.Timestamp.Hour()]++
		}
		observed := make([]uint64, 24)
		copy(observed, hourCounts[:])
		_, pValue := mathutil.ChiSquareGoodnessOfFit(observed)
		if pValue < t.cfg.ChiSquarePValue {
			sev := clip(-math.Log10(pValue)/6.0, 0, 1)
			severities = append(severities, sev)
			patterns = append(patterns, TemporalPattern{Type: "unusual_timing", Severity: sev})
		}
	}

	last5min := actorWin.Since(now, 5*time.Minute)
	prev5min := actorWin.Since(now.Add(-5*time.Minute), 5*time.Minute)
	rateLast := float64(len(last5min)) / 5.0
	ratePrev := float64(len(prev5min)) / 5.0
	if ratePrev >= 0.5 && rateLast >= 0.5 && rateLast >= 3.0*ratePrev {
		severities = append(severities, 0.6)
		patterns = append(patterns, TemporalPattern{Type: "velocity_acceleration", Severity: 0.6, RatePerMin: rateLast})
	}

	features := extractTemporalFeatures(ev, actorWin, repoWin, t.cfg)

	score := clip(maxFloat(severities...), 0, 1)
	expl := TemporalExplanation{Features: features, Patterns: patterns}
	var anomalies []Anomaly
	for _, p := range patterns {
		anomalies = append(anomalies, Anomaly{Type: p.Type, Severity: p.Severity})
	}
	return Result{Score: score, Features: features, Anomalies: anomalies}, expl
}

// minSpanMinutes floors the denominator of a rate computation so a handful
// of events landing within the same instant don't divide by a near-zero
// span and blow the rate up to an arbitrarily large number.
const minSpanMinutes = 1.0 / 60.0

// rateOverSpan computes events/minute using the actual span from the oldest
// qualifying event to now, not the size of the configured lookback window
// (spec §8 scenario 3: 12 events landing within 90s of a 5-minute window
// must report a rate of 12/1.5=8/min, not 12/5=2.4/min).
func rateOverSpan(count int, oldest, now time.Time) float64 {
	if count == 0 || oldest.IsZero() {
		return 0
	}
	span := now.Sub(oldest).Minutes()
	if span < minSpanMinutes {
		span = minSpanMinutes
	}
	return float64(count) / span
}

func extractTemporalFeatures(ev eventmodel.Event, actorWin *ActorWindow, repoWin *RepoWindow, cfg TemporalConfig) []float64 {
	now := ev.Timestamp
	out := make([]float64, 9)

	lastMin := actorWin.Since(now, time.Minute)
	repoScoped := 0
	for _, e := range lastMin {
		if e.RepoID == ev.Repository.ID {
			repoScoped++
		}
	}
	out[0] = float64(repoScoped)

	last7d := actorWin.Since(now, 7*24*time.Hour)
	avg7d := float64(len(last7d)) / (7 * 24)
	if avg7d > 0 {
		out[1] = out[0] / avg7d
	}

	burstWindow := time.Duration(cfg.BurstWindowMin) * time.Minute
	recent := actorWin.Since(now, burstWindow)
	var oldestRecent time.Time
	if len(recent) > 0 {
		oldestRecent = recent[0].Timestamp
	}
	out[2] = rateOverSpan(len(recent), oldestRecent, now)

	if len(recent) >= 2 {
		var total float64
		for i := 1; i < len(recent); i++ {
			total += recent[i].Timestamp.Sub(recent[i-1].Timestamp).Seconds()
		}
		meanGap := total / float64(len(recent)-1)
		var variance float64
		for i := 1; i < len(recent); i++ {
			gap := recent[i].Timestamp.Sub(recent[i-1].Timestamp).Seconds()
			variance += (gap - meanGap) * (gap - meanGap)
		}
		variance /= float64(len(recent) - 1)
		if meanGap > 0 {
			out[3] = clip(1.0-(variance/(meanGap*meanGap)), 0, 1)
		}
	}

	coordWindow := time.Duration(cfg.CoordWindowMin) * time.Minute
	coordEvents := repoWin.Since(now, coordWindow)
	distinctActors := map[int64]bool{}
	for _, e := range coordEvents {
		distinctActors[e.ActorID] = true
	}
	out[4] = clip(float64(len(distinctActors))/10.0, 0, 1)

	if len(last7d) > 0 {
		var offHours, weekend int
		for _, e := range last7d {
			h := e.Timestamp.Hour()
			if h < 9 || h >= 18 {
				offHours++
			}
			wd := e.Timestamp.Weekday()
			if wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
		}
		out[5] = float64(offHours) / float64(len(last7d))
		out[6] = float64(weekend) / float64(len(last7d))
	}

	last24h := actorWin.Since(now, 24*time.Hour)
	if len(last24h) > 0 {
		hourBuckets := map[int]int{}
		for _, e := range last24h {
			hourBuckets[e.Timestamp.Hour()]++
		}
		maxBucket := 0
		for _, c := range hourBuckets {
			if c > maxBucket {
				maxBucket = c
			}
		}
		out[7] = float64(maxBucket) / float64(len(last24h))
	}

	last5min := actorWin.Since(now, 5*time.Minute)
	prev5min := actorWin.Since(now.Add(-5*time.Minute), 5*time.Minute)
	rateLast := float64(len(last5min)) / 5.0
	ratePrev := float64(len(prev5min)) / 5.0
	if ratePrev > 0 {
		out[8] = rateLast / ratePrev
	}

	return out
}
