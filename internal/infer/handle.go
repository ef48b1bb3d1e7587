package infer

import (
	"context"
	"slices"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// Handle is the caller's view of a submitted batch.
type Handle struct {
	id   string
	size int
	subs *subscriptions
	agg  *aggregator
}

// ID returns the batch identifier.
func (h *Handle) ID() string { return h.id }

// Len returns the number of tasks in the batch.
func (h *Handle) Len() int { return h.size }

// On registers fn for events of category and returns a function that removes
// it. Unknown categories are accepted and never delivered. Events published
// before registration are not replayed.
func (h *Handle) On(category Category, fn Listener) (unsubscribe func()) {
	return h.subs.add(category, fn)
}

// OnResult registers fn for result events.
func (h *Handle) OnResult(fn func(index int, err error, output engine.TensorSet)) (unsubscribe func()) {
	return h.On(CategoryResult, func(ev Event) {
		fn(ev.Index, ev.Err, ev.Output)
	})
}

// OnFinish registers fn for the finish event.
func (h *Handle) OnFinish(fn func(results []Outcome)) (unsubscribe func()) {
	return h.On(CategoryFinish, func(ev Event) {
		fn(ev.Results)
	})
}

// Done is closed after the finish event has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.agg.done
}

// Results returns the index-aligned outcomes once the batch has finished.
func (h *Handle) Results() ([]Outcome, bool) {
	select {
	case <-h.agg.done:
		return slices.Clone(h.agg.final), true
	default:
		return nil, false
	}
}

// Wait blocks until the batch finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-h.agg.done:
		return slices.Clone(h.agg.final), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
