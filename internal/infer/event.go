package infer

import (
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// Category names a kind of batch event.
type Category string

// Event categories published by a batch.
const (
	CategoryResult Category = "result"
	CategoryFinish Category = "finish"
)

// Kind classifies a settled task.
type Kind string

// Outcome kinds.
const (
	KindSuccess       Kind = "success"
	KindEngineFailure Kind = "engine_failure"
	KindTimeout       Kind = "timeout"
)

// Outcome is the settled result of one task. Exactly one of Output and Err is
// meaningful: Err is nil on success.
type Outcome struct {
	Index    int
	Output   engine.TensorSet
	Err      error
	Duration time.Duration
}

// OK reports whether the task succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Kind classifies the outcome.
func (o Outcome) Kind() Kind {
	switch {
	case o.Err == nil:
		return KindSuccess
	case IsTimeout(o.Err):
		return KindTimeout
	default:
		return KindEngineFailure
	}
}

// Event is delivered to listeners. Result events carry Index, Err, Output and
// Duration for one task; finish events carry Results for the whole batch, index-aligned
// with the submitted inputs.
type Event struct {
	Category Category
	BatchID  string

	Index    int
	Err      error
	Output   engine.TensorSet
	Duration time.Duration

	Results []Outcome
}

// Listener receives batch events. Listeners must not block on the batch that
// is delivering to them (for example by calling Handle.Wait).
type Listener func(Event)
