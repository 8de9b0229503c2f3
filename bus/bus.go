// Package bus implements the overlay's two application-facing channels:
// the broadcast outbox (one conceptual publisher, many per-connection
// subscribers) and the inbox (many connection producers, one application
// consumer).
//
// Bus.Publish fans a message out to every live subscriber with a
// non-blocking send (`select { case ch <- msg: default: }`), dropping the
// message for any subscriber whose channel is full rather than blocking
// the publisher on a slow connection.
package bus

import (
	"log/slog"
	"sync"
)

// Message is the opaque application-facing payload the bus carries. The
// p2p package defines the concrete wire.Message type; bus stays agnostic
// so it can be reused as a plain pub-sub primitive.
type Message interface{}

// DefaultSubscriberCapacity mirrors the overlay's GLOB_CHANNEL_BUFFER: the
// per-subscriber bound before a slow connection starts lagging rather than
// stalling the publisher.
const DefaultSubscriberCapacity = 20000

// Bus is a broadcast outbox: every message Published is delivered to every
// currently-subscribed channel. A lagging subscriber (its channel full)
// has the message dropped for it and a lag is logged; the publisher never
// blocks on a slow subscriber.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Message
	nextID      int
	logger      *slog.Logger
}

// New creates an empty Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[int]chan Message),
		logger:      logger.With("component", "bus"),
	}
}

// Subscription is a live bus subscription. Unsubscribe stops further
// deliveries and closes the channel returned by Subscribe.
type Subscription struct {
	id  int
	bus *Bus
	ch  chan Message
}

// C returns the channel this subscription receives published messages on.
func (s *Subscription) C() <-chan Message { return s.ch }

// Unsubscribe removes this subscription from the bus and closes its
// channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	if _, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(s.ch)
	}
	s.bus.mu.Unlock()
}

// Subscribe registers a new subscriber with the given channel capacity
// (DefaultSubscriberCapacity is the usual choice).
func (b *Bus) Subscribe(capacity int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, capacity)
	b.subscribers[id] = ch
	return &Subscription{id: id, bus: b, ch: ch}
}

// Publish fans msg out to every live subscriber. A subscriber whose
// channel is full is skipped and logged, never blocked on.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("subscriber lagging, dropping message", "subscriber", id)
		}
	}
}

// Inbox is the many-producer, single-consumer mailbox the application
// drains. Every connection manager holds its own Sender; the application
// holds the single Receiver.
type Inbox struct {
	ch chan Message
}

// NewInbox creates an Inbox with the given channel capacity.
func NewInbox(capacity int) *Inbox {
	return &Inbox{ch: make(chan Message, capacity)}
}

// Sender is the producer half of an Inbox, handed to each connection
// manager.
type Sender struct {
	ch chan Message
}

// Sender returns a new producer handle for this inbox.
func (i *Inbox) Sender() Sender { return Sender{ch: i.ch} }

// Send enqueues msg for the application to consume. Blocks if the inbox is
// full; callers that must not block should select on a context alongside.
func (s Sender) Send(msg Message) { s.ch <- msg }

// Receive returns the consumer channel. Only the application should read
// from it.
func (i *Inbox) Receive() <-chan Message { return i.ch }
