package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoanomaly/octoanomaly/internal/errs"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

func TestEventQueue_DequeueBatchOrdersByPriorityThenAge(t *testing.T) {
	q := NewEventQueue(openTestDB(t), 0)

	low := eventmodel.Event{ID: "low", Priority: eventmodel.PriorityLow}
	medium := eventmodel.Event{ID: "medium", Priority: eventmodel.PriorityMedium}
	high := eventmodel.Event{ID: "high", Priority: eventmodel.PriorityHigh}

	require.NoError(t, q.Enqueue(low))
	require.NoError(t, q.Enqueue(medium))
	require.NoError(t, q.Enqueue(high))

	out, err := q.DequeueBatch(10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "high", out[0].Event.ID)
	assert.Equal(t, "medium", out[1].Event.ID)
	assert.Equal(t, "low", out[2].Event.ID)
}

func TestEventQueue_DequeueBatchRespectsMaxAndRemovesEntries(t *testing.T) {
	q := NewEventQueue(openTestDB(t), 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(eventmodel.Event{ID: string(rune('a' + i)), Priority: eventmodel.PriorityLow}))
	}

	first, err := q.DequeueBatch(2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	rest, err := q.DequeueBatch(10)
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	depth, err = q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestEventQueue_EnqueuePreservesTypedPayload(t *testing.T) {
	q := NewEventQueue(openTestDB(t), 0)
	ev := eventmodel.Event{
		ID:       "p1",
		Type:     eventmodel.EventPush,
		Priority: eventmodel.PriorityHigh,
		Payload:  eventmodel.PayloadPush{Ref: "refs/heads/main", Forced: true},
	}
	require.NoError(t, q.Enqueue(ev))

	out, err := q.DequeueBatch(1)
	require.NoError(t, err)
	require.Len(t, out, 1)

	require.IsType(t, eventmodel.PayloadPush{}, out[0].Event.Payload)
	push := out[0].Event.Payload.(eventmodel.PayloadPush)
	assert.True(t, push.Forced)
	assert.Equal(t, "refs/heads/main", push.Ref)
}

func TestEventQueue_DepthOnEmptyQueueIsZero(t *testing.T) {
	q := NewEventQueue(openTestDB(t), 0)
	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestEventQueue_EnqueueFailsTransientlyAtMaxDepth(t *testing.T) {
	q := NewEventQueue(openTestDB(t), 2)
	require.NoError(t, q.Enqueue(eventmodel.Event{ID: "a", Priority: eventmodel.PriorityLow}))
	require.NoError(t, q.Enqueue(eventmodel.Event{ID: "b", Priority: eventmodel.PriorityLow}))

	err := q.Enqueue(eventmodel.Event{ID: "c", Priority: eventmodel.PriorityLow})
	require.Error(t, err)
	assert.True(t, errs.IsTemporary(err))

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	_, err = q.DequeueBatch(1)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(eventmodel.Event{ID: "c", Priority: eventmodel.PriorityLow}))
}
