package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(0)
	defer sub.Cancel()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:     EventCredentialIssued,
		Metadata: map[string]string{"credential_id": "urn:uuid:abc"},
	})

	// Fan-out is synchronous, so the event is already buffered.
	select {
	case event := <-sub.C:
		assert.Equal(t, EventCredentialIssued, event.Type)
		assert.Equal(t, "urn:uuid:abc", event.Metadata["credential_id"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	default:
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	subA := broker.Subscribe(0)
	subB := broker.Subscribe(0)
	defer subA.Cancel()
	defer subB.Cancel()

	broker.Publish(&Event{Type: EventListRotated})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case event := <-sub.C:
			require.Equal(t, EventListRotated, event.Type)
		default:
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestLaggingSubscriberDropsEvents(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(1)
	defer sub.Cancel()

	// The second publish overflows the buffer and is dropped, not blocked on.
	broker.Publish(&Event{Type: EventListCreated})
	broker.Publish(&Event{Type: EventListPublished})

	first := <-sub.C
	assert.Equal(t, EventListCreated, first.Type)
	select {
	case event := <-sub.C:
		t.Fatalf("expected overflow drop, got %s", event.Type)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(0)
	sub.Cancel()
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// A second Cancel is harmless.
	sub.Cancel()
}

func TestCloseStopsDelivery(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(0)

	broker.Close()
	_, open := <-sub.C
	assert.False(t, open)

	// Publishing and subscribing after Close are no-ops.
	broker.Publish(&Event{Type: EventStatusUpdated})
	late := broker.Subscribe(0)
	_, open = <-late.C
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}
