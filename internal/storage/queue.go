// Package storage — queue.go
//
// EventQueue is the durable, at-least-once work queue between the Poller
// and the StreamProcessor (spec §2, §4.1 step 6, §6 wire format).
//
// Keys are sortable so a cursor-free consumer can always resume from the
// oldest unconsumed entry: one byte of priority (lower sorts first is
// wrong for priority — we want high priority drained first, so the byte
// is inverted: 0x00=high, 0x01=medium, 0x02=low) followed by an
// RFC3339Nano enqueue timestamp and the event id, mirroring the ledger
// key scheme the profile store's bbolt sibling tables use.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octoanomaly/octoanomaly/internal/errs"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

// errQueueFull marks the queue as having reached maxDepth, so that
// IsTemporary(err) lets the poller's priority-drop policy treat it the same
// as a transient storage error (spec §5 invariant P5).
var errQueueFull = errors.New("storage: event queue is at capacity")

// QueuedEvent is the persisted envelope for one EventQueue entry.
type QueuedEvent struct {
	Event      eventmodel.Event `json:"event"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

var priorityByte = map[eventmodel.Priority]byte{
	eventmodel.PriorityHigh:   0x00,
	eventmodel.PriorityMedium: 0x01,
	eventmodel.PriorityLow:    0x02,
}

func queueKey(ev eventmodel.Event, enqueuedAt time.Time) []byte {
	pb, ok := priorityByte[ev.Priority]
	if !ok {
		pb = priorityByte[eventmodel.PriorityLow]
	}
	return []byte(fmt.Sprintf("%c%s_%s", pb, enqueuedAt.UTC().Format(time.RFC3339Nano), ev.ID))
}

// EventQueue is a bbolt-backed, priority-ordered, at-least-once queue.
type EventQueue struct {
	db       *DB
	maxDepth int
}

// NewEventQueue wraps db as an EventQueue, bounded to maxDepth durable
// entries (spec §5 invariant P5: the queue must be bounded so the poller's
// priority-drop policy has something to trigger on). maxDepth <= 0 means
// unbounded, used by tests that don't exercise backpressure.
func NewEventQueue(db *DB, maxDepth int) *EventQueue {
	return &EventQueue{db: db, maxDepth: maxDepth}
}

// Enqueue durably appends ev, or fails with a transient "queue full" error
// once the queue holds maxDepth entries. Idempotent in effect — re-enqueuing
// the same event id at a new timestamp creates a second entry, but
// AnomalyRecord persistence (sink.go) is idempotent on event id so a
// duplicate costs one extra processing cycle, never a duplicate record
// (spec §5 dedup-set note, §7 transient-store handling).
func (q *EventQueue) Enqueue(ev eventmodel.Event) error {
	qe := QueuedEvent{Event: ev, EnqueuedAt: time.Now().UTC()}
	data, err := json.Marshal(qe)
	if err != nil {
		return fmt.Errorf("EventQueue.Enqueue: marshal: %w", err)
	}
	key := queueKey(ev, qe.EnqueuedAt)
	err = q.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketQueue))
		if q.maxDepth > 0 && b.Stats().KeyN >= q.maxDepth {
			return errQueueFull
		}
		return b.Put(key, data)
	})
	if err != nil {
		return errs.Transient("EventQueue.Enqueue", err)
	}
	return nil
}

// DequeueBatch pops up to max oldest-highest-priority entries and
// deletes them from the durable queue in the same transaction. At-least-
// once: if the caller crashes after DequeueBatch returns but before
// processing completes, the entries are gone from the queue but the
// event itself is not yet reflected in an AnomalyRecord — the spec
// accepts this window (§7 "if the event is not yet persisted, the event
// message is re-consumed via at-least-once delivery") by relying on the
// upstream poller's own TTL dedup set rather than the queue for replay;
// within a single process lifetime this method is the queue's only
// consumer.
func (q *EventQueue) DequeueBatch(max int) ([]QueuedEvent, error) {
	var out []QueuedEvent
	err := q.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketQueue))
		c := b.Cursor()
		var keysToDelete [][]byte
		for k, v := c.First(); k != nil && len(out) < max; k, v = c.Next() {
			var qe QueuedEvent
			if err := json.Unmarshal(v, &qe); err != nil {
				keysToDelete = append(keysToDelete, append([]byte(nil), k...))
				continue
			}
			out = append(out, qe)
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}
		for _, k := range keysToDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Transient("EventQueue.DequeueBatch", err)
	}
	return out, nil
}

// Depth returns the current number of durably queued entries.
func (q *EventQueue) Depth() (int, error) {
	var n int
	err := q.db.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketQueue)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, errs.Transient("EventQueue.Depth", err)
	}
	return n, nil
}
