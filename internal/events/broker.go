// Package events carries realtime "message upserted" notifications from
// the processing pipeline to subscribed clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/onebox/internal/model"
)

// MessageUpserted is broadcast after every successful index write in the
// processing pipeline. It carries the full current record.
type MessageUpserted struct {
	ID        string        `json:"id"`
	Message   model.Message `json:"message"`
	EmittedAt time.Time     `json:"emitted_at"`
}

// Broker fans events out to subscribers. Sends never block: a subscriber
// that stops draining its channel misses events rather than stalling the
// pipeline.
type Broker struct {
	mu   sync.Mutex
	subs map[chan MessageUpserted]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[chan MessageUpserted]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe function. The channel is closed on unsubscribe.
func (b *Broker) Subscribe() (<-chan MessageUpserted, func()) {
	ch := make(chan MessageUpserted, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish broadcasts the upserted message to all current subscribers.
func (b *Broker) Publish(msg model.Message) {
	event := MessageUpserted{
		ID:        uuid.New().String(),
		Message:   msg,
		EmittedAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Drop for slow subscribers to avoid blocking the pipeline.
		}
	}
}
