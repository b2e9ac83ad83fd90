// Package detectors implements the four independent anomaly detectors of
// spec §4.3–§4.6: Behavioral, Temporal, Content, Contextual. Each exposes
// a Detect method taking the current event plus whatever profile and
// sliding-window state it needs, and returns a Result that is never an
// error — per spec §7, detector failures degrade the result instead of
// propagating.
package detectors

import (
	"sync"
	"time"

	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

// retentionWindow bounds how long raw per-actor/per-repo event history is
// kept in memory — long enough for the temporal detector's 7-day
// baseline-ratio and chi-square features (spec §4.4).
const retentionWindow = 7 * 24 * time.Hour

// ActorEvent is the slice of an event's fields the detectors need for
// sliding-window feature extraction, independent of the full payload.
type ActorEvent struct {
	Timestamp       time.Time
	Type            eventmodel.EventType
	RepoID          int64
	CommitMsgLenAvg float64
	CommitMsgCount  int
	FilesChanged    int
	IsCommitEvent   bool
}

// ActorWindow is the bounded recent-event history for one actor.
type ActorWindow struct {
	mu     sync.Mutex
	Events []ActorEvent
}

// Add appends ev and prunes entries older than retentionWindow.
func (w *ActorWindow) Add(ev ActorEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Events = append(w.Events, ev)
	w.prune(ev.Timestamp)
}

func (w *ActorWindow) prune(now time.Time) {
	cutoff := now.Add(-retentionWindow)
	i := 0
	for i < len(w.Events) && w.Events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.Events = append([]ActorEvent(nil), w.Events[i:]...)
	}
}

// Since returns a copy of events with Timestamp in (now-d, now].
func (w *ActorWindow) Since(now time.Time, d time.Duration) []ActorEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-d)
	out := make([]ActorEvent, 0, len(w.Events))
	for _, e := range w.Events {
		if e.Timestamp.After(cutoff) && !e.Timestamp.After(now) {
			out = append(out, e)
		}
	}
	return out
}

// RepoEvent is the slice of an event's fields the temporal detector needs
// for cross-actor coordination detection within a repository.
type RepoEvent struct {
	Timestamp time.Time
	ActorID   int64
}

// RepoWindow is the bounded recent cross-actor event history for one repo.
type RepoWindow struct {
	mu     sync.Mutex
	Events []RepoEvent
}

// Add appends ev and prunes entries older than retentionWindow.
func (w *RepoWindow) Add(ev RepoEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Events = append(w.Events, ev)
	cutoff := ev.Timestamp.Add(-retentionWindow)
	i := 0
	for i < len(w.Events) && w.Events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.Events = append([]RepoEvent(nil), w.Events[i:]...)
	}
}

// Since returns a copy of events with Timestamp in (now-d, now].
func (w *RepoWindow) Since(now time.Time, d time.Duration) []RepoEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-d)
	out := make([]RepoEvent, 0, len(w.Events))
	for _, e := range w.Events {
		if e.Timestamp.After(cutoff) && !e.Timestamp.After(now) {
			out = append(out, e)
		}
	}
	return out
}

// WindowStore holds per-actor and per-repo sliding windows, created
// lazily on first reference. Eviction of long-idle actors/repos is
// handled by the stream processor's periodic sweep (mirrors
// config.Poller-adjacent WindowEvictionTimeout in the ambient config
// model), not by this store itself.
type WindowStore struct {
	mu     sync.RWMutex
	actors map[int64]*ActorWindow
	repos  map[int64]*RepoWindow
}

// NewWindowStore constructs an empty WindowStore.
func NewWindowStore() *WindowStore {
	return &WindowStore{
		actors: make(map[int64]*ActorWindow),
		repos:  make(map[int64]*RepoWindow),
	}
}

// Actor returns (creating if necessary) the ActorWindow for actorID.
func (s *WindowStore) Actor(actorID int64) *ActorWindow {
	s.mu.RLock()
	w, ok := s.actors[actorID]
	s.mu.RUnlock()
	if ok {
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.actors[actorID]; ok {
		return w
	}
	w = &ActorWindow{}
	s.actors[actorID] = w
	return w
}

// Repo returns (creating if necessary) the RepoWindow for repoID.
func (s *WindowStore) Repo(repoID int64) *RepoWindow {
	s.mu.RLock()
	w, ok := s.repos[repoID]
	s.mu.RUnlock()
	if ok {
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.repos[repoID]; ok {
		return w
	}
	w = &RepoWindow{}
	s.repos[repoID] = w
	return w
}

// EvictIdle removes actor/repo windows whose most recent event is older
// than idleAfter, bounding memory growth (§9 ambient stack, grounded on
// the teacher's AgentConfig.WindowEvictionTimeout concept).
func (s *WindowStore) EvictIdle(now time.Time, idleAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.actors {
		w.mu.Lock()
		stale := len(w.Events) == 0 || now.Sub(w.Events[len(w.Events)-1].Timestamp) > idleAfter
		w.mu.Unlock()
		if stale {
			delete(s.actors, id)
		}
	}
	for id, w := range s.repos {
		w.mu.Lock()
		stale := len(w.Events) == 0 || now.Sub(w.Events[len(w.Events)-1].Timestamp) > idleAfter
		w.mu.Unlock()
		if stale {
			delete(s.repos, id)
		}
	}
}
