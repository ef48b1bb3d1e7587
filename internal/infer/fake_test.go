package infer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/infer"
)

// step scripts how one inference request behaves.
type step struct {
	delay time.Duration
	err   error
	// hang blocks the call until the model is released.
	hang bool
	// honourCtx makes the call return ctx.Err() when its context ends.
	honourCtx bool
	panics    bool
}

// scriptedModel hands out requests whose behaviour follows steps, in the order
// requests are created.
type scriptedModel struct {
	mu        sync.Mutex
	steps     []step
	createErr map[int]error
	created   int
	release   chan struct{}
}

func newScriptedModel(t *testing.T, steps ...step) *scriptedModel {
	t.Helper()
	m := &scriptedModel{steps: steps, release: make(chan struct{})}
	t.Cleanup(m.unblock)
	return m
}

func (m *scriptedModel) unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.release:
	default:
		close(m.release)
	}
}

func (m *scriptedModel) Name() string            { return "scripted" }
func (m *scriptedModel) Inputs() []engine.Port  { return []engine.Port{{Name: "x"}} }
func (m *scriptedModel) Outputs() []engine.Port { return []engine.Port{{Name: "x"}} }
func (m *scriptedModel) Device() string         { return "FAKE" }

func (m *scriptedModel) CreateInferRequest() (engine.InferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.created
	m.created++
	if err := m.createErr[i]; err != nil {
		return nil, err
	}
	var s step
	if i < len(m.steps) {
		s = m.steps[i]
	}
	return &scriptedRequest{step: s, release: m.release}, nil
}

func (m *scriptedModel) requestsCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

type scriptedRequest struct {
	step    step
	release <-chan struct{}
}

// Infer echoes its input so tests can check which input produced an output.
func (r *scriptedRequest) Infer(ctx context.Context, inputs engine.TensorSet) (engine.TensorSet, error) {
	if r.step.panics {
		panic("device lost")
	}

	var ctxDone <-chan struct{}
	if r.step.honourCtx {
		ctxDone = ctx.Done()
	}

	if r.step.hang {
		select {
		case <-r.release:
			return inputs, nil
		case <-ctxDone:
			return nil, ctx.Err()
		}
	}

	timer := time.NewTimer(r.step.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctxDone:
		return nil, ctx.Err()
	}

	if r.step.err != nil {
		return nil, r.step.err
	}
	return inputs, nil
}

func input(i int) engine.TensorSet {
	return engine.TensorSet{
		"x": &engine.Tensor{Type: engine.F32, Shape: engine.Shape{1}, Data: []float32{float32(i)}},
	}
}

func inputs(n int) []engine.TensorSet {
	out := make([]engine.TensorSet, n)
	for i := range out {
		out[i] = input(i)
	}
	return out
}

// echoed returns the value an echoing request produced for an input.
func echoed(out engine.TensorSet) int {
	return int(out["x"].Data[0])
}

// recorder captures events delivered to it.
type recorder struct {
	mu     sync.Mutex
	events []infer.Event
}

func (r *recorder) listen(ev infer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []infer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]infer.Event(nil), r.events...)
}

func (r *recorder) byCategory(c infer.Category) []infer.Event {
	var out []infer.Event
	for _, ev := range r.snapshot() {
		if ev.Category == c {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) options() []infer.SubmitOption {
	return []infer.SubmitOption{
		infer.WithListener(infer.CategoryResult, r.listen),
		infer.WithListener(infer.CategoryFinish, r.listen),
	}
}

func waitBatch(t *testing.T, h *infer.Handle) []infer.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("batch %s did not finish: %v", h.ID(), err)
	}
	return results
}

var errDevice = errors.New("device error")
