package infer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// task is one scheduled inference call bound to one input set.
type task struct {
	index   int
	input   engine.TensorSet
	request engine.InferRequest
	// requestErr is set when the compiled model could not create a request.
	requestErr error
	timeout    time.Duration
	logger     *slog.Logger

	deadline time.Time
	settled  atomic.Bool
	outcome  Outcome
}

type callResult struct {
	output engine.TensorSet
	err    error
}

// run starts the inference call and waits for it or the deadline, whichever
// comes first, then hands the outcome to settle. The call's context carries
// the deadline; engines that ignore it keep running after a timeout and their
// result is discarded.
func (t *task) run(settle func(Outcome)) {
	start := time.Now()
	t.deadline = start.Add(t.timeout)

	if t.requestErr != nil {
		t.settle(settle, Outcome{
			Index: t.index,
			Err:   newTaskError(t.index, ErrEngineFailure, fmt.Errorf("create infer request: %w", t.requestErr)),
		})
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), t.deadline)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		done <- t.call(ctx)
	}()

	select {
	case res := <-done:
		o := Outcome{Index: t.index, Output: res.output, Duration: time.Since(start)}
		switch {
		case res.err == nil:
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			// The engine gave up because of our deadline.
			o.Output = nil
			o.Err = t.timeoutError()
		default:
			o.Output = nil
			o.Err = newTaskError(t.index, ErrEngineFailure, res.err)
		}
		t.settle(settle, o)

	case <-ctx.Done():
		t.settle(settle, Outcome{
			Index:    t.index,
			Err:      t.timeoutError(),
			Duration: time.Since(start),
		})
		go t.discard(done)
	}
}

// call runs Infer, converting a panic in the engine into an error.
func (t *task) call(ctx context.Context) (res callResult) {
	defer func() {
		if r := recover(); r != nil {
			res = callResult{err: fmt.Errorf("engine panicked: %v", r)}
		}
	}()
	out, err := t.request.Infer(ctx, t.input)
	return callResult{output: out, err: err}
}

// discard waits for an abandoned call so its result can be dropped.
func (t *task) discard(done <-chan callResult) {
	res := <-done
	lateResultsDiscarded.Inc()
	t.logger.Debug("discarded late inference result",
		"task_index", t.index,
		"late_by_ms", time.Since(t.deadline).Milliseconds(),
		"error", res.err,
	)
}

func (t *task) timeoutError() error {
	return newTaskError(t.index, ErrTimeout, fmt.Errorf("no result within %s: %w", t.timeout, context.DeadlineExceeded))
}

// settle records the outcome and reports it. Only the first call has any
// effect.
func (t *task) settle(report func(Outcome), o Outcome) bool {
	if !t.settled.CompareAndSwap(false, true) {
		return false
	}
	t.outcome = o
	observeOutcome(o)
	report(o)
	return true
}
