// Package streamprocessor — prefilter.go
//
// The pre-filter of spec §4.2 step 1: a cheap heuristic that skips full
// detector scoring for trivially-normal low-priority events, so the
// detector fan-out only runs where it can plausibly change the outcome.
package streamprocessor

import (
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/storage"
)

// shouldSkipDetectors reports whether ev can bypass full scoring. Only
// ever true for low-priority events; high/medium priority always runs
// the full pipeline regardless of profile warmth.
func shouldSkipDetectors(ev eventmodel.Event, profile *storage.UserProfile, warmN int, minShare float64) bool {
	if ev.Priority != eventmodel.PriorityLow {
		return false
	}
	if profile == nil || profile.N < uint64(warmN) {
		return false
	}
	count := profile.EventTypeCounts[string(ev.Type)]
	share := float64(count) / float64(profile.N)
	return share >= minShare
}
