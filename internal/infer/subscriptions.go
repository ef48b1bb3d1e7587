package infer

import (
	"log/slog"
	"slices"
	"sync"
)

type subscriber struct {
	id int
	fn Listener
}

// subscriptions holds a batch's listeners per category. Listener slices are
// replaced rather than mutated, so a delivery iterates a stable snapshot even
// while listeners are added or removed.
type subscriptions struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Category][]subscriber
	logger    *slog.Logger
}

func newSubscriptions(logger *slog.Logger) *subscriptions {
	return &subscriptions{
		listeners: make(map[Category][]subscriber),
		logger:    logger,
	}
}

// add appends fn to the category's listeners and returns a function that
// removes it. Any category is accepted.
func (s *subscriptions) add(category Category, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[category] = append(slices.Clip(s.listeners[category]), subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[category] = slices.DeleteFunc(slices.Clone(s.listeners[category]), func(sub subscriber) bool {
			return sub.id == id
		})
	}
}

func (s *subscriptions) snapshot(category Category) []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners[category]
}

// deliver calls every listener registered for ev.Category, in registration
// order. A panicking listener is logged and skipped.
func (s *subscriptions) deliver(ev Event) {
	for _, sub := range s.snapshot(ev.Category) {
		s.call(sub, ev)
	}
}

func (s *subscriptions) call(sub subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			listenerPanics.Inc()
			s.logger.Error("listener panicked",
				"batch_id", ev.BatchID,
				"category", string(ev.Category),
				"panic", r,
			)
		}
	}()
	sub.fn(ev)
}
