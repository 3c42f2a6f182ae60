package scheduler

import "sync"

// EventType tags what a scheduler event carries.
type EventType string

const (
	// EventJobLog carries one progress-log line of a running job.
	EventJobLog EventType = "job-log"
	// EventQueueChanged is a payload-less notification that the job list
	// changed; listeners refresh by pulling.
	EventQueueChanged EventType = "queue-changed"
)

// Event is what subscribers of an account's job topic receive.
type Event struct {
	Type      EventType `json:"type"`
	AccountID int64     `json:"accountId"`
	JobID     string    `json:"jobId,omitempty"`
	Line      string    `json:"line,omitempty"`
}

// Broker fans scheduler events out to per-account subscribers. Delivery is
// best-effort: a subscriber that stops draining loses events rather than
// blocking the runner.
type Broker struct {
	mu   sync.Mutex
	subs map[int64]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]map[chan Event]struct{})}
}

// Subscribe registers a listener for one account's events. The returned
// function unsubscribes and closes the channel.
func (b *Broker) Subscribe(accountID int64) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	if b.subs[accountID] == nil {
		b.subs[accountID] = make(map[chan Event]struct{})
	}
	b.subs[accountID][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if set, ok := b.subs[accountID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, accountID)
			}
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber of the account, dropping
// it for subscribers whose buffer is full.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.AccountID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
