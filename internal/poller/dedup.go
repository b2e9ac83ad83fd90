// Package poller — dedup.go
//
// DedupSet is the time-bounded seen-event-id set of spec §4.1 step 5
// (TTL 10 min) and the deterministic low-priority sampling hash of step
// 4. Both use xxhash (github.com/cespare/xxhash/v2, present in the
// reference corpus's go.mod indirect requires and directly used by
// cuemby-warren and rcourtman-Pulse) rather than a cryptographic hash,
// since neither use case needs collision resistance against an
// adversary — only a stable, fast, deterministic digest of the event id.
package poller

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupSet tracks recently seen event ids with expiry. Readers see
// eventually-consistent membership (spec §5): duplicates cost one extra
// processing cycle but never double-publish since AnomalyRecord writes
// are idempotent on event id.
type DedupSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[uint64]time.Time
}

// NewDedupSet constructs a DedupSet with the given TTL.
func NewDedupSet(ttl time.Duration) *DedupSet {
	return &DedupSet{ttl: ttl, seen: make(map[uint64]time.Time)}
}

// SeenOrAdd returns true if eventID was already recorded (and still
// within TTL), otherwise records it and returns false.
func (d *DedupSet) SeenOrAdd(eventID string) bool {
	h := xxhash.Sum64String(eventID)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiresAt, ok := d.seen[h]; ok && now.Before(expiresAt) {
		return true
	}
	d.seen[h] = now.Add(d.ttl)
	return false
}

// Prune removes expired entries. Call periodically to bound memory.
func (d *DedupSet) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for k, expiresAt := range d.seen {
		if now.After(expiresAt) {
			delete(d.seen, k)
			removed++
		}
	}
	return removed
}

// SampleLowPriority reports whether an event id should be kept under the
// low-priority sampling policy (spec §4.1 step 4): deterministic across
// restarts, any stable hash suffices per spec §9's open question.
func SampleLowPriority(eventID string, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}
	h := xxhash.Sum64String(eventID)
	const maxUint64 = ^uint64(0)
	threshold := uint64(fraction * float64(maxUint64))
	return h <= threshold
}
