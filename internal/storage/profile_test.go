package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfileStore_GetUserColdStartIsZeroValueNotPersisted(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	p, err := ps.GetUser(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ActorID)
	assert.Equal(t, uint64(0), p.N)
	assert.NotNil(t, p.EventTypeCounts)

	p2, err := ps.GetUser(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), p2.N)
}

func TestProfileStore_UpsertUserEWMAConvergesTowardObservedValue(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	var features [FeatureDim]float64
	features[0] = 10.0

	var p *UserProfile
	for i := 0; i < 50; i++ {
		p, err = ps.UpsertUser(1, features, "PushEvent", 0.3, 1e-6, 999999)
		require.NoError(t, err)
	}

	assert.InDelta(t, 10.0, p.Mean[0], 0.01)
	assert.Equal(t, uint64(50), p.N)
	assert.Equal(t, uint64(50), p.EventTypeCounts["PushEvent"])
}

func TestProfileStore_UpsertUserNIsMonotonicNonDecreasing(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	var features [FeatureDim]float64
	var lastN uint64
	for i := 0; i < 10; i++ {
		p, err := ps.UpsertUser(7, features, "", 0.1, 1e-6, 999999)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.N, lastN)
		lastN = p.N
	}
	assert.Equal(t, uint64(10), lastN)
}

func TestProfileStore_UpsertUserVarianceNeverBelowFloor(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	var features [FeatureDim]float64
	features[0] = 5.0
	const floor = 0.01

	var p *UserProfile
	var err2 error
	for i := 0; i < 20; i++ {
		p, err2 = ps.UpsertUser(3, features, "", 0.2, floor, 999999)
		require.NoError(t, err2)
	}
	assert.GreaterOrEqual(t, p.Variance[0], floor)
}

func TestProfileStore_UpsertUserBuildsInverseCovarianceOnceWarm(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	var p *UserProfile
	for i := 0; i < 5; i++ {
		var features [FeatureDim]float64
		features[0] = float64(i)
		features[1] = float64(i * 2)
		p, err = ps.UpsertUser(9, features, "", 0.3, 1e-6, 5)
		require.NoError(t, err)
	}
	assert.NotNil(t, p.InvCovariance)
}

func TestProfileStore_TouchRepoSeedsThenUpdatesEventsPerHour(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := ps.TouchRepo(100, base)
	require.NoError(t, err)
	assert.Equal(t, float64(1), p.EventsPerHour)

	p, err = ps.TouchRepo(100, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Greater(t, p.EventsPerHour, 0.0)
	assert.Equal(t, base.Add(30*time.Minute), p.UpdatedAt)
}

func TestProfileStore_PutRepoCriticalityPersists(t *testing.T) {
	ps, err := NewProfileStore(openTestDB(t), 0)
	require.NoError(t, err)

	require.NoError(t, ps.PutRepoCriticality(55, 0.8, 1000, 200))

	p, err := ps.GetRepo(55)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, p.CriticalityScore, 1e-9)
	assert.Equal(t, 1000, p.Stars)
	assert.Equal(t, 200, p.Forks)
	assert.False(t, p.CriticalityComputed.IsZero())
}

func TestProfileStore_CacheAndDurableReadsAgree(t *testing.T) {
	db := openTestDB(t)
	ps, err := NewProfileStore(db, 0)
	require.NoError(t, err)

	var features [FeatureDim]float64
	features[3] = 4.0
	_, err = ps.UpsertUser(11, features, "PushEvent", 0.5, 1e-6, 999999)
	require.NoError(t, err)

	// A second ProfileStore over the same db has an empty cache and must
	// read the durable record back identically.
	ps2, err := NewProfileStore(db, 0)
	require.NoError(t, err)
	p, err := ps2.GetUser(11)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, p.Mean[3], 1e-9)
	assert.Equal(t, uint64(1), p.N)
}
