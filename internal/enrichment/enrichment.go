// Package enrichment provides the pluggable summarizer extension point
// named in spec §1 ("the optional large-language-model summarizer ...
// described as a pluggable enrichment stage"). The registry pattern is
// grounded directly on the teacher's contrib/scorer.go: a
// mutex-protected name→implementation map, Register/Get/List functions,
// panic-on-duplicate-registration, and a trivial built-in implementation
// registered via init() as the default.
package enrichment

import (
	"context"
	"fmt"
	"sync"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// Summarizer produces a short human-facing summary of an AnomalyRecord.
// Implementations must be goroutine-safe; the stream processor may call
// Summarize from multiple lanes concurrently.
type Summarizer interface {
	// Name returns the unique identifier used as the config key
	// (enrichment.summarizer).
	Name() string

	// Summarize returns a short free-text summary for rec. Called only
	// when enrichment.enabled=true and rec clears the report floor.
	// Implementations must respect ctx cancellation/timeout.
	Summarize(ctx context.Context, rec storage.AnomalyRecord) (string, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Summarizer)
)

// Register registers a summarizer. Panics if a summarizer with the same
// name is already registered. Call from init() in plugin packages.
func Register(s Summarizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("enrichment: summarizer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// Get returns the registered summarizer with the given name.
func Get(name string) (Summarizer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("enrichment: summarizer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// List returns the names of all registered summarizers.
func List() []string {
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

// noopSummarizer is the zero-dependency default: it never calls out to an
// actual LLM, since that integration is an external collaborator per
// spec §1. It produces a deterministic templated sentence so the
// enrichment stage has observable behavior without a real provider
// configured.
type noopSummarizer struct{}

func init() {
	Register(&noopSummarizer{})
}

func (noopSummarizer) Name() string { return "noop" }

func (noopSummarizer) Summarize(_ context.Context, rec storage.AnomalyRecord) (string, error) {
	return fmt.Sprintf("%s severity anomaly on %s by %s (%s), score %.2f",
		rec.SeverityLevel, rec.RepositoryName, rec.UserLogin, rec.EventType, rec.FinalAnomalyScore), nil
}
