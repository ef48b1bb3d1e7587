package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/infer"
	"github.com/seantiz/asyncinfer/internal/model"
	"github.com/seantiz/asyncinfer/internal/store"
)

var (
	// ErrModelNotFound is returned when no loaded model has the requested ID.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidModel is returned when a model cannot be read or compiled.
	ErrInvalidModel = errors.New("invalid model")
)

type loadedModel struct {
	info     model.ModelInfo
	compiled engine.CompiledModel
}

// Service loads models and runs batches against them.
type Service struct {
	store          store.Store
	registry       *engine.Registry
	dispatcher     *infer.Dispatcher
	broker         *EventBroker
	logger         *slog.Logger
	defaultTimeout time.Duration

	mu     sync.RWMutex
	models map[string]*loadedModel

	wg sync.WaitGroup
}

// NewService creates a service. A non-positive defaultTimeout selects
// infer.DefaultTimeout.
func NewService(s store.Store, reg *engine.Registry, logger *slog.Logger, defaultTimeout time.Duration) *Service {
	if defaultTimeout <= 0 {
		defaultTimeout = infer.DefaultTimeout
	}
	return &Service{
		store:    s,
		registry: reg,
		dispatcher: infer.NewDispatcher(
			infer.WithLogger(logger),
			infer.WithDefaultTimeout(defaultTimeout),
		),
		broker:         NewEventBroker(),
		logger:         logger,
		defaultTimeout: defaultTimeout,
		models:         make(map[string]*loadedModel),
	}
}

// Broker returns the service's event broker for SSE subscription.
func (s *Service) Broker() *EventBroker {
	return s.broker
}

// LoadModel reads a model description from r, compiles it for device and
// keeps it for later batches. Device "AUTO" lets the registry choose.
func (s *Service) LoadModel(ctx context.Context, device string, r io.Reader, config map[string]string) (*model.ModelInfo, error) {
	deviceName, eng, err := s.registry.Resolve(device)
	if err != nil {
		return nil, err
	}

	m, err := eng.ReadModel(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrInvalidModel, err)
	}

	compiled, err := eng.Compile(ctx, m, config)
	if err != nil {
		return nil, fmt.Errorf("%w: compile for %s: %w", ErrInvalidModel, deviceName, err)
	}

	info := model.ModelInfo{
		ID:        model.NewID(),
		Name:      compiled.Name(),
		Device:    compiled.Device(),
		Inputs:    compiled.Inputs(),
		Outputs:   compiled.Outputs(),
		Config:    maps.Clone(config),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.models[info.ID] = &loadedModel{info: info, compiled: compiled}
	s.mu.Unlock()

	s.logger.Info("model loaded", "model_id", info.ID, "name", info.Name, "device", info.Device)
	return &info, nil
}

// Models returns every loaded model, oldest first.
func (s *Service) Models() []model.ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]model.ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		infos = append(infos, m.info)
	}
	// ULIDs sort by creation time.
	slices.SortFunc(infos, func(a, b model.ModelInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Model returns the loaded model with the given ID.
func (s *Service) Model(id string) (*model.ModelInfo, error) {
	m, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	info := m.info
	return &info, nil
}

func (s *Service) lookup(id string) (*loadedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	return m, nil
}

// Submit records a batch and starts one inference task per input. It returns
// once every task has started; results are persisted and published as they
// settle. A zero timeout selects the service default.
func (s *Service) Submit(ctx context.Context, modelID string, inputs []engine.TensorSet, timeout time.Duration) (*model.Batch, error) {
	m, err := s.lookup(modelID)
	if err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", infer.ErrInvalidBatch, timeout)
	}
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}

	b := &model.Batch{
		ID:        model.NewID(),
		ModelID:   m.info.ID,
		ModelName: m.info.Name,
		Device:    m.info.Device,
		Status:    model.BatchStatusPending,
		Size:      len(inputs),
		TimeoutMS: int(timeout.Milliseconds()),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	if len(inputs) > 0 {
		if err := s.store.UpdateBatchStatus(ctx, b.ID, model.BatchStatusRunning); err != nil {
			return nil, fmt.Errorf("start batch: %w", err)
		}
		now := time.Now().UTC()
		b.Status = model.BatchStatusRunning
		b.StartedAt = &now
	}

	// The finish listener reads this copy, so later changes by the caller
	// to the returned batch are not observed.
	snapshot := *b

	s.wg.Add(1)
	_, err = s.dispatcher.Submit(ctx, m.compiled, inputs, timeout,
		infer.WithBatchID(b.ID),
		infer.WithListener(infer.CategoryResult, s.onResult),
		infer.WithListener(infer.CategoryFinish, func(ev infer.Event) {
			defer s.wg.Done()
			s.onFinish(snapshot, ev)
		}),
	)
	if err != nil {
		s.wg.Done()
		s.logger.Error("dispatch batch", "batch_id", b.ID, "error", err)
		// No task ran, so the batch never existed as far as callers know.
		if derr := s.store.DeleteBatch(context.Background(), b.ID); derr != nil {
			s.logger.Error("failed to remove undispatched batch", "batch_id", b.ID, "error", derr)
		}
		s.broker.Close(b.ID)
		return nil, fmt.Errorf("dispatch batch: %w", err)
	}

	if len(inputs) == 0 {
		now := time.Now().UTC()
		b.Status = model.BatchStatusCompleted
		b.FinishedAt = &now
	}
	return b, nil
}

// validateInputs rejects inputs the dispatcher would accept but no engine
// could run.
func validateInputs(inputs []engine.TensorSet) error {
	for i, in := range inputs {
		if len(in) == 0 {
			return fmt.Errorf("%w: input %d has no tensors", infer.ErrInvalidBatch, i)
		}
		for _, name := range in.Names() {
			t := in[name]
			if t == nil {
				return fmt.Errorf("%w: input %d port %q is null", infer.ErrInvalidBatch, i, name)
			}
			if err := t.Validate(); err != nil {
				return fmt.Errorf("%w: input %d port %q: %w", infer.ErrInvalidBatch, i, name, err)
			}
		}
	}
	return nil
}

func (s *Service) onResult(ev infer.Event) {
	r := taskResult(ev.BatchID, infer.Outcome{
		Index:    ev.Index,
		Output:   ev.Output,
		Err:      ev.Err,
		Duration: ev.Duration,
	})
	if err := s.store.InsertTaskResult(context.Background(), &r); err != nil {
		s.logger.Error("failed to persist task result", "batch_id", ev.BatchID, "task_index", ev.Index, "error", err)
	}
	s.broker.Publish(BatchEvent{
		Category: infer.CategoryResult,
		BatchID:  ev.BatchID,
		Result:   &r,
	})
}

func (s *Service) onFinish(b model.Batch, ev infer.Event) {
	defer s.broker.Close(b.ID)

	if err := s.store.UpdateBatchStatus(context.Background(), b.ID, model.BatchStatusCompleted); err != nil {
		s.logger.Error("failed to complete batch", "batch_id", b.ID, "error", err)
	}

	now := time.Now().UTC()
	b.Status = model.BatchStatusCompleted
	b.Settled = len(ev.Results)
	b.FinishedAt = &now
	b.Results = make([]model.TaskResult, len(ev.Results))

	counts := make(map[infer.Kind]int)
	for i, o := range ev.Results {
		b.Results[i] = taskResult(b.ID, o)
		counts[o.Kind()]++
	}

	s.logger.Info("batch completed",
		"batch_id", b.ID,
		"size", b.Size,
		"succeeded", counts[infer.KindSuccess],
		"failed", counts[infer.KindEngineFailure],
		"timed_out", counts[infer.KindTimeout],
	)

	s.broker.Publish(BatchEvent{
		Category: infer.CategoryFinish,
		BatchID:  b.ID,
		Batch:    &b,
	})
}

// taskResult converts a settled outcome into its persisted form.
func taskResult(batchID string, o infer.Outcome) model.TaskResult {
	r := model.TaskResult{
		BatchID:    batchID,
		Index:      o.Index,
		Output:     o.Output,
		DurationMS: int(o.Duration.Milliseconds()),
		SettledAt:  time.Now().UTC(),
	}
	switch o.Kind() {
	case infer.KindSuccess:
		r.Status = model.TaskStatusSucceeded
	case infer.KindTimeout:
		r.Status = model.TaskStatusTimedOut
		r.Error = o.Err.Error()
	default:
		r.Status = model.TaskStatusFailed
		r.Error = o.Err.Error()
	}
	return r
}

// Wait blocks until every submitted batch has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
