package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an issuer lifecycle event.
type EventType string

const (
	EventCredentialIssued EventType = "credential.issued"
	EventStatusUpdated    EventType = "status.updated"
	EventListCreated      EventType = "list.created"
	EventListRotated      EventType = "list.rotated"
	EventCapacityAdded    EventType = "capacity.added"
	EventListPublished    EventType = "list.published"
)

// Event is one issuer lifecycle event.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// DefaultSubscriptionBuffer is the per-subscription channel depth used when
// Subscribe is called with a non-positive buffer.
const DefaultSubscriptionBuffer = 32

// Broker fans issuer events out to subscribers. Delivery is strictly best
// effort: publishing happens inline on the publisher's goroutine, and a
// subscription whose buffer is full loses the event rather than slowing
// issuance. No correctness property may depend on delivery.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's handle: receive on C, Cancel when done.
type Subscription struct {
	C      <-chan *Event
	ch     chan *Event
	broker *Broker
}

// NewBroker creates a broker ready for use; there is no background loop to
// start.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription with the given channel buffer.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	ch := make(chan *Event, buffer)
	sub := &Subscription{C: ch, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if _, active := s.broker.subs[s]; !active {
		return
	}
	delete(s.broker.subs, s)
	close(s.ch)
}

// Publish stamps the event with an ID and timestamp if the caller left them
// empty, then offers it to every subscription without blocking.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Lagging subscriber; drop rather than block issuance.
		}
	}
}

// Close drops all subscriptions and closes their channels. Publishing after
// Close is a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
