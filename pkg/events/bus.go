// Package events implements Komorebi's in-process publish/subscribe bus.
// It deliberately has no cross-process fan-out — backing subscriptions
// with Postgres LISTEN/NOTIFY would let multiple API pods see the same
// events, but distributed coordination is out of scope, so this bus only
// ever serves subscribers in the same process. The concurrency shape is a
// mutex-protected subscriber map with snapshot-then-send, so publishers
// never hold the lock during channel sends.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 100

// Subscription is a live subscriber handle. Events arrive on C; call
// Unsubscribe when the consumer is done (closing an SSE connection,
// stopping a test).
type Subscription struct {
	ID string
	C  <-chan models.ChunkEvent

	bus *Bus
}

// Unsubscribe removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.ID)
}

type subscriber struct {
	id      string
	ch      chan models.ChunkEvent
	dropped int
}

// Bus is the in-process event bus. Zero value is not usable; construct
// with NewBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	logger      *slog.Logger
}

// NewBus constructs a Bus with the given per-subscriber buffer size (pass 0
// for DefaultBufferSize).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      slog.Default().With("component", "events.Bus"),
	}
}

// Subscribe registers a new subscriber and returns its handle. The returned
// channel receives every event Publish sends after this call; no history
// is replayed.
func (b *Bus) Subscribe() *Subscription {
	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan models.ChunkEvent, b.bufferSize),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	return &Subscription{ID: sub.id, C: sub.ch, bus: b}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish fans an event out to every current subscriber. Sends are
// non-blocking: a subscriber whose buffer is full has its oldest queued
// event discarded to make room for evt, so a slow consumer loses stale
// backlog rather than the event that just happened, and a synthetic
// events.dropped marker is queued for it once there's room (coalesced, not
// one-per-drop). Publish never blocks on a slow consumer and never holds
// the subscriber-map lock during a send — it snapshots the subscriber list
// first.
func (b *Bus) Publish(evt models.ChunkEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.flushDropMarker(s)
		select {
		case s.ch <- evt:
		default:
			b.dropOldestForSpace(s)
			select {
			case s.ch <- evt:
			default:
			}
			b.recordDrop(s)
		}
	}
}

// dropOldestForSpace discards a full subscriber's oldest queued event,
// non-blocking. Called right before a retried send so the newest event
// displaces stale backlog instead of being dropped itself.
func (b *Bus) dropOldestForSpace(s *subscriber) {
	select {
	case <-s.ch:
	default:
	}
}

// recordDrop increments a subscriber's drop counter and tries to enqueue a
// coalesced events.dropped marker. If even that doesn't fit, the counter
// keeps accumulating and every later Publish retries the marker first, so
// it is delivered once the subscriber's buffer has room — no separate
// marker per dropped event.
func (b *Bus) recordDrop(s *subscriber) {
	b.mu.Lock()
	s.dropped++
	b.mu.Unlock()
	b.flushDropMarker(s)
}

// flushDropMarker enqueues a coalesced events.dropped marker for s if it
// has unreported drops and its buffer has room, non-blocking.
func (b *Bus) flushDropMarker(s *subscriber) {
	b.mu.Lock()
	count := s.dropped
	b.mu.Unlock()
	if count == 0 {
		return
	}

	marker := models.ChunkEvent{
		Type:      models.EventEventsDropped,
		Timestamp: time.Now(),
		Payload:   models.EventsDroppedPayload{DroppedCount: count},
	}

	select {
	case s.ch <- marker:
		b.mu.Lock()
		s.dropped = 0
		b.mu.Unlock()
		b.logger.Warn("subscriber buffer overflow, dropped events", "subscriber_id", s.id, "dropped_count", count)
	default:
	}
}

// SubscriberCount reports the current number of live subscriptions, used by
// health reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
