// Package contrib — scorer.go
//
// Plugin interface for custom behavioral scorers.
//
// The built-in behavioral detector scores an actor's feature vector
// against their EWMA baseline using per-dimension z-scores and a
// Mahalanobis multivariate test. contrib lets an operator swap that
// scoring strategy for a custom one (a different distance metric, a
// learned model, a rule table) without touching internal/detectors.
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using
//	RegisterScorer(). The daemon selects the active scorer via
//	config: behavioral.custom_scorer: "my-scorer". Leave unset to use
//	the built-in Mahalanobis/z-score scorer.
//
// Plugin contract:
//   - Score() must be goroutine-safe (called concurrently across lanes).
//   - Score() must return quickly; it runs inside the per-event
//     detector timeout budget alongside the other three detectors.
//   - Score() must not panic.
//   - Name() must return a stable, unique string.
//
// Example plugin:
//
//	package zscoreonly
//
//	func init() {
//	    contrib.RegisterScorer(&Scorer{})
//	}
//
//	type Scorer struct{}
//
//	func (s *Scorer) Name() string { return "zscore-only" }
//
//	func (s *Scorer) Score(req contrib.ScoreRequest) (float64, error) {
//	    if req.Baseline == nil { return 0, nil }
//	    var maxZ float64
//	    for i, x := range req.Features {
//	        if req.Baseline.StdDev[i] == 0 { continue }
//	        z := math.Abs((x - req.Baseline.Mean[i]) / req.Baseline.StdDev[i])
//	        if z > maxZ { maxZ = z }
//	    }
//	    return maxZ / 10.0, nil
//	}
package contrib

import (
	"fmt"
	"sync"
)

// BaselineSnapshot is the read-only view of an actor's behavioral
// baseline passed to custom scorers.
type BaselineSnapshot struct {
	// ActorID is the account id this baseline belongs to.
	ActorID int64

	// Mean is the per-feature EWMA mean vector μ.
	Mean []float64

	// StdDev is the per-feature standard deviation (sqrt of the EWMA
	// variance). Provided as a convenience for z-score based scorers.
	StdDev []float64

	// InvCovariance is Σ⁻¹. nil if not enough samples have accumulated
	// to invert the covariance matrix yet.
	InvCovariance [][]float64

	// SampleCount is the number of events folded into this baseline.
	SampleCount uint64
}

// ScoreRequest is the input to AnomalyScorer.Score().
type ScoreRequest struct {
	// ActorID is the account id being scored.
	ActorID int64

	// Features is the current behavioral feature vector. Length matches
	// Baseline.Mean when Baseline is non-nil.
	Features []float64

	// Baseline is the actor's pre-computed baseline, or nil if the
	// actor is still cold (profile.N below the warm threshold).
	Baseline *BaselineSnapshot

	// EventTimestamp is when the scored event occurred.
	EventTimestampUnix int64
}

// AnomalyScorer is the interface custom behavioral scorers implement.
type AnomalyScorer interface {
	// Name returns the unique identifier for this scorer, used as the
	// config key (behavioral.custom_scorer).
	Name() string

	// Score computes a behavioral anomaly score in [0, 1] for req.
	// Returns 0 if req.Baseline is nil.
	Score(req ScoreRequest) (float64, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AnomalyScorer)
)

// RegisterScorer registers a custom scorer. Panics if a scorer with the
// same name is already registered. Call from a plugin package's init().
func RegisterScorer(s AnomalyScorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name, or an
// error if none is registered under that name.
func GetScorer(name string) (AnomalyScorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}
