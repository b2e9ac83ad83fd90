package streamprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/storage"
)

func TestShouldSkipDetectors_HighPriorityNeverSkipped(t *testing.T) {
	ev := eventmodel.Event{Priority: eventmodel.PriorityHigh, Type: eventmodel.EventPush}
	profile := &storage.UserProfile{N: 1000, EventTypeCounts: map[string]uint64{"PushEvent": 1000}}
	assert.False(t, shouldSkipDetectors(ev, profile, 10, 0.5))
}

func TestShouldSkipDetectors_ColdProfileNeverSkipped(t *testing.T) {
	ev := eventmodel.Event{Priority: eventmodel.PriorityLow, Type: eventmodel.EventWatch}
	profile := &storage.UserProfile{N: 2}
	assert.False(t, shouldSkipDetectors(ev, profile, 10, 0.5))
}

func TestShouldSkipDetectors_NilProfileNeverSkipped(t *testing.T) {
	ev := eventmodel.Event{Priority: eventmodel.PriorityLow, Type: eventmodel.EventWatch}
	assert.False(t, shouldSkipDetectors(ev, nil, 10, 0.5))
}

func TestShouldSkipDetectors_DominantEventTypeIsSkipped(t *testing.T) {
	ev := eventmodel.Event{Priority: eventmodel.PriorityLow, Type: eventmodel.EventWatch}
	profile := &storage.UserProfile{N: 100, EventTypeCounts: map[string]uint64{"WatchEvent": 80}}
	assert.True(t, shouldSkipDetectors(ev, profile, 10, 0.5))
}

func TestShouldSkipDetectors_RareEventTypeNotSkipped(t *testing.T) {
	ev := eventmodel.Event{Priority: eventmodel.PriorityLow, Type: eventmodel.EventFork}
	profile := &storage.UserProfile{N: 100, EventTypeCounts: map[string]uint64{"WatchEvent": 80, "ForkEvent": 1}}
	assert.False(t, shouldSkipDetectors(ev, profile, 10, 0.5))
}
