// Package storage — profile.go
//
// ProfileStore implements the key-value baseline store of spec §4.8:
// per-key read-modify-write over UserProfile and RepositoryProfile
// records, fronted by a bounded LRU cache, backed durably by bbolt.
//
// Concurrency: writes to the same key are serialized by a striped set of
// mutexes keyed by FNV-1a hash of the key string, mirroring the
// actor-lane sharding used by the stream processor (§5) — distinct keys
// proceed concurrently, the same key never races itself.
package storage

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"github.com/octoanomaly/octoanomaly/internal/errs"
	"github.com/octoanomaly/octoanomaly/internal/mathutil"
)

// FeatureDim is the dimensionality of the behavioral feature vector (spec §4.3).
const FeatureDim = 10

// UserProfile is the per-actor behavioral baseline (spec §3).
type UserProfile struct {
	ActorID int64 `json:"actor_id"`

	// Mean and Variance are the EWMA baseline μ, σ² (spec §4.3).
	Mean     [FeatureDim]float64 `json:"mean"`
	Variance [FeatureDim]float64 `json:"variance"`

	// N is the sample count. Monotonically non-decreasing (invariant P3).
	N uint64 `json:"n"`

	// LastUpdate is the timestamp of the most recent observation.
	LastUpdate time.Time `json:"last_update"`

	// RecentSamples is a bounded ring of recent feature vectors, used to
	// rebuild the sample covariance matrix for the multivariate test once
	// N >= mvn_n. Capped independently of N.
	RecentSamples [][FeatureDim]float64 `json:"recent_samples,omitempty"`

	// InvCovariance is the cached inverse covariance matrix, rebuilt
	// lazily when RecentSamples changes meaningfully. Nil until N >= mvn_n
	// or if the sample covariance is singular.
	InvCovariance [][]float64 `json:"inv_covariance,omitempty"`

	// EventTypeCounts tracks observed event-type frequency for the
	// stream processor's pre-filter heuristic (§4.2 step 1).
	EventTypeCounts map[string]uint64 `json:"event_type_counts,omitempty"`

	// CreatedAt records when the profile was first created (cold start).
	CreatedAt time.Time `json:"created_at"`
}

// RepositoryProfile is the per-repository baseline (spec §3).
type RepositoryProfile struct {
	RepoID int64 `json:"repo_id"`

	// EventsPerHour is an EWMA of recent event rate.
	EventsPerHour float64 `json:"events_per_hour"`

	// ContributorSetSize is an estimate of distinct recent contributors.
	ContributorSetSize int `json:"contributor_set_size"`

	// CriticalityScore is cached with TTL (§4.8, §4.6).
	CriticalityScore    float64   `json:"criticality_score"`
	CriticalityComputed time.Time `json:"criticality_computed"`

	// Stars, Forks seed the cold-start criticality proxy (§9 supplemented feature).
	Stars int `json:"stars"`
	Forks int `json:"forks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileStore is the bbolt+LRU backed implementation of spec §4.8.
type ProfileStore struct {
	db    *DB
	cache *lru.Cache

	stripesMu [256]sync.Mutex
}

// NewProfileStore wraps db with an LRU cache of the given size.
func NewProfileStore(db *DB, cacheSize int) (*ProfileStore, error) {
	if cacheSize <= 0 {
		cacheSize = 50000
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, errs.Fatal("storage.NewProfileStore", err)
	}
	return &ProfileStore{db: db, cache: c}, nil
}

func userKey(actorID int64) string { return fmt.Sprintf("user:%d", actorID) }
func repoKey(repoID int64) string  { return fmt.Sprintf("repo:%d", repoID) }

func stripeIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % 256)
}

func (s *ProfileStore) lockKey(key string) func() {
	m := &s.stripesMu[stripeIndex(key)]
	m.Lock()
	return m.Unlock
}

// Get returns the raw cached/persisted value for key, or nil if absent.
// O(1) when cached. Internal helper used by GetUser/GetRepo.
func (s *ProfileStore) get(key string, into interface{}) (bool, error) {
	if v, ok := s.cache.Get(key); ok {
		data := v.([]byte)
		if err := json.Unmarshal(data, into); err != nil {
			return false, fmt.Errorf("storage.get(%q): unmarshal cached: %w", key, err)
		}
		return true, nil
	}

	var data []byte
	err := s.db.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketProfiles))
		v := b.Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, errs.Transient("storage.get", err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("storage.get(%q): unmarshal: %w", key, err)
	}
	s.cache.Add(key, data)
	return true, nil
}

func (s *ProfileStore) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage.put(%q): marshal: %w", key, err)
	}
	err = s.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketProfiles))
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return errs.Transient("storage.put", err)
	}
	s.cache.Add(key, data)
	return nil
}

// GetUser returns the UserProfile for actorID, or a freshly-initialized
// zero-value profile (not yet persisted) if none exists — cold start.
func (s *ProfileStore) GetUser(actorID int64) (*UserProfile, error) {
	key := userKey(actorID)
	var p UserProfile
	found, err := s.get(key, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		now := time.Now().UTC()
		p = UserProfile{
			ActorID:         actorID,
			CreatedAt:       now,
			LastUpdate:      now,
			EventTypeCounts: make(map[string]uint64),
		}
		for i := range p.Variance {
			p.Variance[i] = varianceFloorDefault
		}
	}
	if p.EventTypeCounts == nil {
		p.EventTypeCounts = make(map[string]uint64)
	}
	return &p, nil
}

// varianceFloorDefault seeds new profiles above zero so the very first
// z-score computation (before any UpsertUser call) does not divide by zero.
const varianceFloorDefault = 1e-6

// UpsertUser loads the current profile, applies the EWMA baseline update
// (spec §4.3) with the given feature vector, and persists atomically.
// Concurrent callers on the same actorID are serialized.
func (s *ProfileStore) UpsertUser(actorID int64, features [FeatureDim]float64, eventType string, alpha, varianceFloor float64, mvnN int) (*UserProfile, error) {
	unlock := s.lockKey(userKey(actorID))
	defer unlock()

	p, err := s.GetUser(actorID)
	if err != nil {
		return nil, err
	}

	for i := 0; i < FeatureDim; i++ {
		newMean := alpha*features[i] + (1-alpha)*p.Mean[i]
		newVar := alpha*(features[i]-newMean)*(features[i]-newMean) + (1-alpha)*p.Variance[i]
		if newVar < varianceFloor {
			newVar = varianceFloor
		}
		p.Mean[i] = newMean
		p.Variance[i] = newVar
	}
	p.N++
	p.LastUpdate = time.Now().UTC()
	if eventType != "" {
		p.EventTypeCounts[eventType]++
	}

	p.RecentSamples = append(p.RecentSamples, features)
	const maxRecentSamples = 200
	if len(p.RecentSamples) > maxRecentSamples {
		p.RecentSamples = p.RecentSamples[len(p.RecentSamples)-maxRecentSamples:]
	}
	if int(p.N) >= mvnN && len(p.RecentSamples) >= mvnN {
		p.InvCovariance = buildInverseCovariance(p.RecentSamples, p.Mean)
	}

	if err := s.put(userKey(actorID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetRepo returns the RepositoryProfile for repoID, or a freshly
// initialized zero-value profile if none exists.
func (s *ProfileStore) GetRepo(repoID int64) (*RepositoryProfile, error) {
	key := repoKey(repoID)
	var p RepositoryProfile
	found, err := s.get(key, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		now := time.Now().UTC()
		p = RepositoryProfile{RepoID: repoID, CreatedAt: now, UpdatedAt: now}
	}
	return &p, nil
}

// TouchRepo updates the repository's EWMA events/hour estimate given a
// new event timestamp (spec §4.8).
func (s *ProfileStore) TouchRepo(repoID int64, eventTS time.Time) (*RepositoryProfile, error) {
	unlock := s.lockKey(repoKey(repoID))
	defer unlock()

	p, err := s.GetRepo(repoID)
	if err != nil {
		return nil, err
	}

	const repoAlpha = 0.1
	if p.UpdatedAt.IsZero() || p.EventsPerHour == 0 {
		p.EventsPerHour = 1
	} else {
		elapsedHours := eventTS.Sub(p.UpdatedAt).Hours()
		if elapsedHours <= 0 {
			elapsedHours = 1.0 / 3600
		}
		instantaneousRate := 1.0 / elapsedHours
		p.EventsPerHour = repoAlpha*instantaneousRate + (1-repoAlpha)*p.EventsPerHour
	}
	p.UpdatedAt = eventTS.UTC()

	if err := s.put(repoKey(repoID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// buildInverseCovariance rebuilds the sample covariance matrix from
// recent feature samples and inverts it via Cholesky decomposition.
// Returns nil if the matrix is singular.
func buildInverseCovariance(samples [][FeatureDim]float64, mean [FeatureDim]float64) [][]float64 {
	flat := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, FeatureDim)
		copy(row, s[:])
		flat[i] = row
	}
	meanSlice := make([]float64, FeatureDim)
	copy(meanSlice, mean[:])

	cov := mathutil.SampleCovariance(flat, meanSlice)
	return mathutil.InvertCovariance(cov)
}

// PutRepoCriticality persists a freshly computed criticality score and
// cache timestamp for repoID (called by the Contextual detector).
func (s *ProfileStore) PutRepoCriticality(repoID int64, score float64, stars, forks int) error {
	unlock := s.lockKey(repoKey(repoID))
	defer unlock()

	p, err := s.GetRepo(repoID)
	if err != nil {
		return err
	}
	p.CriticalityScore = score
	p.CriticalityComputed = time.Now().UTC()
	if stars > 0 {
		p.Stars = stars
	}
	if forks > 0 {
		p.Forks = forks
	}
	return s.put(repoKey(repoID), p)
}
