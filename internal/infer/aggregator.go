package infer

import (
	"log/slog"
	"slices"
	"sync"
)

// aggregator collects the outcomes of one batch. Settlements are serialized:
// each result event is fully delivered before the next settlement is
// recorded, and the finish event follows the last result event.
type aggregator struct {
	batchID string
	subs    *subscriptions
	logger  *slog.Logger

	mu      sync.Mutex
	results []Outcome
	settled int
	final   []Outcome
	done    chan struct{}
}

func newAggregator(batchID string, size int, subs *subscriptions, logger *slog.Logger) *aggregator {
	batchesInFlight.Inc()
	return &aggregator{
		batchID: batchID,
		subs:    subs,
		logger:  logger,
		results: make([]Outcome, size),
		done:    make(chan struct{}),
	}
}

// record stores one task outcome, publishes its result event, and publishes
// the finish event when it was the last outstanding task.
func (a *aggregator) record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled >= len(a.results) {
		a.logger.Warn("outcome recorded after batch finished", "batch_id", a.batchID, "task_index", o.Index)
		return
	}

	a.results[o.Index] = o
	a.settled++

	a.logger.Debug("task settled",
		"batch_id", a.batchID,
		"task_index", o.Index,
		"outcome", string(o.Kind()),
		"duration_ms", o.Duration.Milliseconds(),
		"settled", a.settled,
		"size", len(a.results),
	)

	a.subs.deliver(Event{
		Category: CategoryResult,
		BatchID:  a.batchID,
		Index:    o.Index,
		Err:      o.Err,
		Output:   o.Output,
		Duration: o.Duration,
	})

	if a.settled == len(a.results) {
		a.finishLocked()
	}
}

// finish completes an empty batch.
func (a *aggregator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finishLocked()
}

func (a *aggregator) finishLocked() {
	a.final = slices.Clone(a.results)
	batchesInFlight.Dec()

	a.logger.Debug("batch finished", "batch_id", a.batchID, "size", len(a.final))

	a.subs.deliver(Event{
		Category: CategoryFinish,
		BatchID:  a.batchID,
		Index:    -1,
		Results:  slices.Clone(a.final),
	})
	close(a.done)
}
