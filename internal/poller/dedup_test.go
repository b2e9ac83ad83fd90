package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupSet_SeenOrAddFlagsSecondOccurrence(t *testing.T) {
	d := NewDedupSet(time.Minute)
	assert.False(t, d.SeenOrAdd("e1"))
	assert.True(t, d.SeenOrAdd("e1"))
}

func TestDedupSet_DistinctIDsAreIndependent(t *testing.T) {
	d := NewDedupSet(time.Minute)
	assert.False(t, d.SeenOrAdd("e1"))
	assert.False(t, d.SeenOrAdd("e2"))
}

func TestDedupSet_PruneRemovesExpiredEntries(t *testing.T) {
	d := NewDedupSet(time.Millisecond)
	d.SeenOrAdd("e1")
	time.Sleep(5 * time.Millisecond)
	removed := d.Prune(time.Now())
	assert.Equal(t, 1, removed)
	assert.False(t, d.SeenOrAdd("e1"))
}

func TestDedupSet_PruneKeepsUnexpiredEntries(t *testing.T) {
	d := NewDedupSet(time.Hour)
	d.SeenOrAdd("e1")
	removed := d.Prune(time.Now())
	assert.Equal(t, 0, removed)
	assert.True(t, d.SeenOrAdd("e1"))
}

func TestSampleLowPriority_ZeroFractionAlwaysFalse(t *testing.T) {
	assert.False(t, SampleLowPriority("anything", 0))
	assert.False(t, SampleLowPriority("anything", -1))
}

func TestSampleLowPriority_FullFractionAlwaysTrue(t *testing.T) {
	assert.True(t, SampleLowPriority("anything", 1))
	assert.True(t, SampleLowPriority("anything", 2))
}

func TestSampleLowPriority_IsDeterministic(t *testing.T) {
	a := SampleLowPriority("stable-id", 0.5)
	b := SampleLowPriority("stable-id", 0.5)
	assert.Equal(t, a, b)
}
