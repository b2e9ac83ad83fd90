// Package pubsub implements the real-time fan-out layer of spec §2, §6.
//
// The source system's single-process broadcast is, per spec §9's design
// note, replaced here by an interface with channel semantics only — the
// actual multi-process broker is an external collaborator. No
// message-broker client library (NATS, Kafka, Redis) appears anywhere in
// the reference corpus to front a concrete implementation against, so
// the in-process Broker below (channels + a mutex-protected subscriber
// registry, non-blocking per-subscriber sends with drop-counting) is the
// only implementation shipped; production deployments wire a different
// Publisher behind the same interface.
package pubsub

import (
	"sync"

	"go.uber.org/zap"
)

// Publisher is the interface the stream processor publishes through.
// A multi-process deployment implements this against an external broker;
// Broker below is the single-process reference implementation.
type Publisher interface {
	Publish(channel string, payload []byte)
}

// Subscription is a single subscriber's channel handle.
type Subscription struct {
	Channel string
	C       <-chan []byte
}

// Broker is an in-process, multi-channel, multi-subscriber fan-out.
// Sends to a full subscriber buffer are dropped, never blocked on —
// slow consumers cannot back-pressure the pipeline (spec §5 suspension
// points list "publish" as a suspension point for the publisher, not a
// blocking one for the broker's internal fan-out).
type Broker struct {
	mu            sync.RWMutex
	subscribers   map[string]map[int]chan []byte
	nextID        int
	bufferSize    int
	log           *zap.Logger
	droppedTotal  uint64
	droppedMu     sync.Mutex
}

// NewBroker constructs a Broker whose subscriber channels are buffered
// to bufferSize.
func NewBroker(bufferSize int, log *zap.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Broker{
		subscribers: make(map[string]map[int]chan []byte),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Subscribe registers a new subscriber on channel and returns a
// Subscription. Callers must call Unsubscribe when done.
func (b *Broker) Subscribe(channel string) (*Subscription, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[int]chan []byte)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, b.bufferSize)
	b.subscribers[channel][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[channel]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
		}
	}

	return &Subscription{Channel: channel, C: ch}, unsubscribe
}

// Publish fans payload out to every current subscriber of channel.
// Implements Publisher.
func (b *Broker) Publish(channel string, payload []byte) {
	b.mu.RLock()
	subs := b.subscribers[channel]
	targets := make([]chan []byte, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
			b.droppedMu.Lock()
			b.droppedTotal++
			b.droppedMu.Unlock()
			if b.log != nil {
				b.log.Debug("pubsub: dropped message to slow subscriber", zap.String("channel", channel))
			}
		}
	}
}

// DroppedTotal returns the cumulative number of messages dropped because
// a subscriber's buffer was full.
func (b *Broker) DroppedTotal() uint64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.droppedTotal
}

// SubscriberCount returns the number of active subscribers on channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}
