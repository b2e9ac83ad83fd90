// Package detectors — behavioral.go
//
// Behavioral detector (spec §4.3): scores an actor's current event
// against their own EWMA baseline across a 10-dimensional feature
// vector, using per-dimension z-scores once warm and a Mahalanobis
// multivariate test once enough samples exist to invert a covariance
// matrix. Grounded on the teacher's anomaly package (mahalanobis.go,
// entropy.go): the Mahalanobis-squared computation and Cholesky-based
// inversion are carried over verbatim in math (now living in
// internal/mathutil), generalized from a 3-dimensional process feature
// vector to the 10-dimensional actor feature vector this spec defines.
package detectors

import (
	"math"
	"time"

	"github.com/octoanomaly/octoanomaly/internal/contrib"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/mathutil"
	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// BehavioralConfig mirrors config.BehavioralConfig; duplicated here as a
// narrow value type so this package does not import internal/config
// (detectors stay free of the full config tree, per the teacher's
// convention of passing narrow parameter structs into anomaly.NewEngine
// rather than the whole Config).
type BehavioralConfig struct {
	EWMAAlpha        float64
	WarmN            int
	MVNN             int
	VarianceFloor    float64
	ZScoreThreshold  float64
	MahalanobisAlpha float64

	// CustomScorerName, if set, selects a contrib.AnomalyScorer registered
	// by name to replace the built-in z-score/Mahalanobis warm-path
	// scoring. Cold-path heuristic scoring is unaffected. Empty uses the
	// built-in scorer.
	CustomScorerName string
}

// BehavioralExplanation is the per-event JSON blob persisted as
// AnomalyRecord.BehavioralAnalysis.
type BehavioralExplanation struct {
	Degraded  bool      `json:"degraded,omitempty"`
	Timeout   bool      `json:"timeout,omitempty"`
	Features  []float64 `json:"features"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
	ColdPath  bool      `json:"cold_path"`
}

// Behavioral implements the behavioral detector.
type Behavioral struct {
	cfg BehavioralConfig
}

// NewBehavioral constructs a Behavioral detector with the given tunables.
func NewBehavioral(cfg BehavioralConfig) *Behavioral {
	return &Behavioral{cfg: cfg}
}

// Detect scores ev for actor given their recent window and persisted
// profile. It never returns an error; a dimension mismatch or other
// internal fault degrades the result instead (spec §7).
func (b *Behavioral) Detect(ev eventmodel.Event, win *ActorWindow, profile *storage.UserProfile) (Result, BehavioralExplanation) {
	features := ExtractBehavioralFeatures(ev, win)

	var anomalies []Anomaly
	coldPath := profile.N < uint64(b.cfg.WarmN)
	var score float64

	switch {
	case !coldPath && b.cfg.CustomScorerName != "":
		score, anomalies = b.customScore(features, profile)
	case !coldPath:
		score, anomalies = b.warmScore(features, profile)
	default:
		score, anomalies = b.coldScore(features)
	}

	score = clip(score, 0, 1)
	expl := BehavioralExplanation{
		Features:  features[:],
		Anomalies: anomalies,
		ColdPath:  coldPath,
	}
	return Result{Score: score, Features: features[:], Anomalies: anomalies}, expl
}

func (b *Behavioral) warmScore(x [storage.FeatureDim]float64, profile *storage.UserProfile) (float64, []Anomaly) {
	var anomalies []Anomaly
	severities := make([]float64, 0, storage.FeatureDim+1)

	featureNames := behavioralFeatureNames()
	for i := 0; i < storage.FeatureDim; i++ {
		sigma := math.Sqrt(profile.Variance[i])
		if sigma == 0 {
			continue
		}
		z := (x[i] - profile.Mean[i]) / sigma
		if math.Abs(z) >= b.cfg.ZScoreThreshold {
			sev := clip((math.Abs(z)-b.cfg.ZScoreThreshold)/5.0, 0, 1)
			severities = append(severities, sev)
			anomalies = append(anomalies, Anomaly{
				Type:        "z_score",
				FeatureName: featureNames[i],
				Current:     x[i],
				ZScore:      z,
				Severity:    sev,
			})
		}
	}

	if int(profile.N) >= b.cfg.MVNN && profile.InvCovariance != nil {
		diff := make([]float64, storage.FeatureDim)
		for i := 0; i < storage.FeatureDim; i++ {
			diff[i] = x[i] - profile.Mean[i]
		}
		d2 := mathutil.MahalanobisSquared(diff, profile.InvCovariance)
		d := math.Sqrt(math.Max(d2, 0))
		// Chi-square critical value at df=10, p=0.01 ≈ 23.21; compare on
		// the distance scale (sqrt of the critical value) the same way
		// the teacher compares a scalar anomaly score to a threshold.
		const chiSquareCritDF10P01 = 23.209
		critDistance := math.Sqrt(chiSquareCritDF10P01)
		if d >= critDistance {
			sev := clip((d-critDistance)/critDistance, 0, 1)
			severities = append(severities, sev)
			anomalies = append(anomalies, Anomaly{
				Type:     "multivariate",
				Current:  d,
				Severity: sev,
			})
		}
	}

	return maxFloat(severities...), anomalies
}

// customScore delegates warm-path scoring to a registered contrib
// scorer. Falls back to the built-in warmScore if the named scorer
// is not registered, rather than failing the event open or closed.
func (b *Behavioral) customScore(x [storage.FeatureDim]float64, profile *storage.UserProfile) (float64, []Anomaly) {
	scorer, err := contrib.GetScorer(b.cfg.CustomScorerName)
	if err != nil {
		return b.warmScore(x, profile)
	}

	stdDev := make([]float64, storage.FeatureDim)
	for i := 0; i < storage.FeatureDim; i++ {
		stdDev[i] = math.Sqrt(profile.Variance[i])
	}

	score, err := scorer.Score(contrib.ScoreRequest{
		Features: x[:],
		Baseline: &contrib.BaselineSnapshot{
			Mean:          profile.Mean[:],
			StdDev:        stdDev,
			InvCovariance: profile.InvCovariance,
			SampleCount:   profile.N,
		},
	})
	if err != nil {
		return b.warmScore(x, profile)
	}

	score = clip(score, 0, 1)
	var anomalies []Anomaly
	if score > 0 {
		anomalies = append(anomalies, Anomaly{
			Type:     "custom_scorer",
			Current:  score,
			Severity: score,
		})
	}
	return score, anomalies
}

func (b *Behavioral) coldScore(x [storage.FeatureDim]float64) (float64, []Anomaly) {
	eventsPerHour := x[0]
	entropy := x[7]

	var severities []float64
	var anomalies []Anomaly

	switch {
	case eventsPerHour >= 100:
		severities = append(severities, 0.9)
		anomalies = append(anomalies, Anomaly{Type: "cold_heuristic", FeatureName: "events_per_hour", Current: eventsPerHour, Severity: 0.9})
	case eventsPerHour >= 50:
		severities = append(severities, 0.7)
		anomalies = append(anomalies, Anomaly{Type: "cold_heuristic", FeatureName: "events_per_hour", Current: eventsPerHour, Severity: 0.7})
	case eventsPerHour >= 20:
		severities = append(severities, 0.5)
		anomalies = append(anomalies, Anomaly{Type: "cold_heuristic", FeatureName: "events_per_hour", Current: eventsPerHour, Severity: 0.5})
	}

	if entropy == 0 && eventsPerHour >= 10 {
		severities = append(severities, 0.6)
		anomalies = append(anomalies, Anomaly{Type: "cold_heuristic", FeatureName: "event_type_entropy", Current: entropy, Severity: 0.6})
	}

	return maxFloat(severities...), anomalies
}

func behavioralFeatureNames() [storage.FeatureDim]string {
	return [storage.FeatureDim]string{
		"events_per_hour",
		"repository_diversity_ratio",
		"avg_inter_event_interval_minutes",
		"commit_message_length_avg",
		"files_changed_per_commit_avg",
		"activity_burst_score",
		"time_spread_hours",
		"event_type_entropy",
		"weekend_activity_ratio",
		"off_hours_activity_ratio",
	}
}

// ExtractBehavioralFeatures computes the 10-dimensional feature vector
// of spec §4.3 for ev given the actor's recent 1h/24h window. The window
// passed in must already include ev (callers append before extracting).
func ExtractBehavioralFeatures(ev eventmodel.Event, win *ActorWindow) [storage.FeatureDim]float64 {
	now := ev.Timestamp
	lastHour := win.Since(now, time.Hour)
	last24h := win.Since(now, 24*time.Hour)

	var out [storage.FeatureDim]float64

	out[0] = float64(len(lastHour))

	distinctRepos := map[int64]bool{}
	for _, e := range lastHour {
		distinctRepos[e.RepoID] = true
	}
	if len(lastHour) > 0 {
		out[1] = float64(len(distinctRepos)) / float64(len(lastHour))
	}

	if len(lastHour) >= 2 {
		var totalGapMin float64
		for i := 1; i < len(lastHour); i++ {
			totalGapMin += lastHour[i].Timestamp.Sub(lastHour[i-1].Timestamp).Minutes()
		}
		out[2] = totalGapMin / float64(len(lastHour)-1)
	}

	var msgLenTotal float64
	var msgCount int
	var filesChangedTotal int
	var commitEventCount int
	for _, e := range lastHour {
		if e.IsCommitEvent {
			msgLenTotal += e.CommitMsgLenAvg * float64(e.CommitMsgCount)
			msgCount += e.CommitMsgCount
			filesChangedTotal += e.FilesChanged
			commitEventCount++
		}
	}
	if msgCount > 0 {
		out[3] = msgLenTotal / float64(msgCount)
	}
	if commitEventCount > 0 {
		out[4] = float64(filesChangedTotal) / float64(commitEventCount)
	}

	out[5] = clip(burstScoreForWindow(lastHour, now), 0, 1)

	if len(lastHour) > 0 {
		first := lastHour[0].Timestamp
		last := lastHour[len(lastHour)-1].Timestamp
		out[6] = last.Sub(first).Hours()
	}

	typeCounts := map[string]uint64{}
	for _, e := range lastHour {
		typeCounts[string(e.Type)]++
	}
	out[7] = mathutil.ShannonEntropy(typeCounts)

	if len(last24h) > 0 {
		var weekend, offHours int
		for _, e := range last24h {
			wd := e.Timestamp.Weekday()
			if wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
			hour := e.Timestamp.Hour()
			if hour < 9 || hour >= 18 {
				offHours++
			}
		}
		out[8] = float64(weekend) / float64(len(last24h))
		out[9] = float64(offHours) / float64(len(last24h))
	}

	return out
}

// burstScoreForWindow reduces the temporal detector's burst-rate concept
// (spec §4.4) to a [0,1] scalar for use as behavioral feature 5, over a
// 5-minute sub-window of the supplied 1h window ending at now. The rate is
// computed over the actual span of qualifying events, not the fixed 5-minute
// window, so a tight cluster of events reports its true rate (spec §8
// scenario 3).
func burstScoreForWindow(events []ActorEvent, now time.Time) float64 {
	cutoff := now.Add(-5 * time.Minute)
	count := 0
	var oldest time.Time
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			count++
			if oldest.IsZero() || e.Timestamp.Before(oldest) {
				oldest = e.Timestamp
			}
		}
	}
	rate := rateOverSpan(count, oldest, now)
	if count < 5 || rate < 2.0 {
		return 0
	}
	return (rate - 2.0) / 8.0
}
