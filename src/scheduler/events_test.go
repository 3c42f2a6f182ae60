package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAccountSubscribers(t *testing.T) {
	broker := NewBroker()

	events, unsubscribe := broker.Subscribe(1)
	defer unsubscribe()
	otherEvents, otherUnsubscribe := broker.Subscribe(2)
	defer otherUnsubscribe()

	broker.Publish(Event{Type: EventJobLog, AccountID: 1, JobID: "j1", Line: "hello"})

	select {
	case ev := <-events:
		assert.Equal(t, EventJobLog, ev.Type)
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, "hello", ev.Line)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	select {
	case ev := <-otherEvents:
		t.Fatalf("subscriber of another account received %+v", ev)
	default:
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	events, unsubscribe := broker.Subscribe(1)
	unsubscribe()

	_, open := <-events
	require.False(t, open)

	// Publishing after the last unsubscribe is a no-op.
	broker.Publish(Event{Type: EventQueueChanged, AccountID: 1})
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	broker := NewBroker()
	events, unsubscribe := broker.Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 200; i++ {
		broker.Publish(Event{Type: EventQueueChanged, AccountID: 1})
	}

	// The buffer holds 64; the rest were dropped instead of blocking.
	received := 0
	for {
		select {
		case <-events:
			received++
		default:
			assert.Equal(t, 64, received)
			return
		}
	}
}
