package infer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/model"
)

// DefaultTimeout is the per-task timeout used when Submit is given zero.
const DefaultTimeout = 10 * time.Second

// Dispatcher fans batches of inputs out to a compiled model.
type Dispatcher struct {
	logger         *slog.Logger
	defaultTimeout time.Duration
	wg             sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDefaultTimeout sets the per-task timeout used when Submit is given zero.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.defaultTimeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type pendingListener struct {
	category Category
	fn       Listener
}

type submitConfig struct {
	batchID   string
	listeners []pendingListener
}

// SubmitOption configures one call to Submit.
type SubmitOption func(*submitConfig)

// WithListener registers fn before any task starts, so it observes every
// event of the batch.
func WithListener(category Category, fn Listener) SubmitOption {
	return func(c *submitConfig) {
		c.listeners = append(c.listeners, pendingListener{category: category, fn: fn})
	}
}

// WithBatchID sets the batch's identifier. By default a new ULID is used.
func WithBatchID(id string) SubmitOption {
	return func(c *submitConfig) {
		c.batchID = id
	}
}

// Submit validates the batch, creates one inference request per input, and
// starts every task before returning. A zero timeout selects the dispatcher's
// default. An empty batch finishes before Submit returns.
//
// ctx bounds submission only; tasks run to their own deadlines regardless of
// ctx being cancelled afterwards.
func (d *Dispatcher) Submit(ctx context.Context, compiled engine.CompiledModel, inputs []engine.TensorSet, timeout time.Duration, opts ...SubmitOption) (*Handle, error) {
	if compiled == nil {
		return nil, invalidBatch("compiled model is nil")
	}
	if timeout < 0 {
		return nil, invalidBatch("negative timeout %s", timeout)
	}
	for i, in := range inputs {
		if in == nil {
			return nil, invalidBatch("input %d is nil", i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	if timeout == 0 {
		timeout = d.defaultTimeout
	}

	cfg := submitConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchID == "" {
		cfg.batchID = model.NewID()
	}

	subs := newSubscriptions(d.logger)
	for _, l := range cfg.listeners {
		subs.add(l.category, l.fn)
	}

	agg := newAggregator(cfg.batchID, len(inputs), subs, d.logger)
	h := &Handle{id: cfg.batchID, size: len(inputs), subs: subs, agg: agg}

	d.logger.Info("batch submitted",
		"batch_id", cfg.batchID,
		"model", compiled.Name(),
		"device", compiled.Device(),
		"size", len(inputs),
		"timeout_ms", timeout.Milliseconds(),
	)

	if len(inputs) == 0 {
		agg.finish()
		return h, nil
	}

	// Request contexts are created one after another; only Infer runs
	// concurrently.
	tasks := make([]*task, len(inputs))
	for i, in := range inputs {
		req, err := compiled.CreateInferRequest()
		tasks[i] = &task{
			index:      i,
			input:      in,
			request:    req,
			requestErr: err,
			timeout:    timeout,
			logger:     d.logger.With("batch_id", cfg.batchID),
		}
	}

	for _, t := range tasks {
		d.wg.Go(func() {
			t.run(agg.record)
		})
	}

	return h, nil
}

// Wait blocks until every task started by this dispatcher has settled.
// Abandoned engine calls of timed-out tasks are not waited for.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
