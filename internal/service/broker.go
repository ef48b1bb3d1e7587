package service

import (
	"sync"

	"github.com/seantiz/asyncinfer/internal/infer"
	"github.com/seantiz/asyncinfer/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// BatchEvent is a batch event as seen by network subscribers. Result events
// carry Result; the finish event carries the completed Batch with all results.
type BatchEvent struct {
	Category infer.Category    `json:"category"`
	BatchID  string            `json:"batch_id"`
	Result   *model.TaskResult `json:"result,omitempty"`
	Batch    *model.Batch      `json:"batch,omitempty"`
}

// EventBroker fans batch events out to channel subscribers. It is safe for
// concurrent use.
//
// Closed topics are kept as markers so that a subscriber arriving after a
// batch finished receives a closed channel instead of waiting forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan BatchEvent
	nextID int
	closed bool
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel of events for batchID and an unsubscribe
// function. If the batch has already finished the channel is closed.
func (b *EventBroker) Subscribe(batchID string) (<-chan BatchEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[batchID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan BatchEvent)}
		b.topics[batchID] = t
	}

	ch := make(chan BatchEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends ev to every subscriber of ev.BatchID. Subscribers with full
// buffers miss the event.
func (b *EventBroker) Publish(ev BatchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.BatchID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close marks batchID finished and closes all of its subscriber channels.
func (b *EventBroker) Close(batchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[batchID]
	if !ok {
		b.topics[batchID] = &eventTopic{subs: make(map[int]chan BatchEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
