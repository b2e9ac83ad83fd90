package streamprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneFor_SingleLaneAlwaysZero(t *testing.T) {
	assert.Equal(t, 0, laneFor(42, 1))
	assert.Equal(t, 0, laneFor(-7, 1))
	assert.Equal(t, 0, laneFor(1, 0))
}

func TestLaneFor_SameActorAlwaysSameLane(t *testing.T) {
	a := laneFor(12345, 16)
	b := laneFor(12345, 16)
	assert.Equal(t, a, b)
}

func TestLaneFor_WithinBounds(t *testing.T) {
	for actor := int64(0); actor < 500; actor++ {
		lane := laneFor(actor, 8)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 8)
	}
}

func TestLaneFor_DistributesAcrossLanes(t *testing.T) {
	seen := map[int]bool{}
	for actor := int64(0); actor < 1000; actor++ {
		seen[laneFor(actor, 8)] = true
	}
	assert.Greater(t, len(seen), 1)
}
