// Package streamprocessor — lanes.go
//
// Lane sharding enforces spec §4.2's ordering rule: "events from the
// same actor are processed in order with respect to profile updates;
// concurrent events on distinct actors are unordered." Grounded on the
// teacher's per-PID worker map in cmd/octoreflex/main.go's runWorker,
// generalized from "one goroutine per discovered PID" to "a fixed pool
// of FNV-hashed lanes," since the actor id space is far larger and
// unbounded compared to a host's live PID set.
package streamprocessor

import (
	"hash/fnv"
)

// laneFor returns the lane index actorID is pinned to, out of n lanes.
func laneFor(actorID int64, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte{
		byte(actorID), byte(actorID >> 8), byte(actorID >> 16), byte(actorID >> 24),
		byte(actorID >> 32), byte(actorID >> 40), byte(actorID >> 48), byte(actorID >> 56),
	})
	return int(h.Sum32() % uint32(n))
}
