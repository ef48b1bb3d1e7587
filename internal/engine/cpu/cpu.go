package cpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// DeviceName is the registry name of the CPU engine.
const DeviceName = "CPU"

// Compile configuration keys.
const (
	// ConfigNumStreams bounds how many Infer calls run at once on one compiled
	// model. Extra calls wait for a free stream.
	ConfigNumStreams = "NUM_STREAMS"

	// ConfigInferenceDelayMS adds a fixed latency to every Infer call.
	ConfigInferenceDelayMS = "INFERENCE_DELAY_MS"
)

// Engine compiles and runs dense models on the host CPU.
type Engine struct {
	logger  *slog.Logger
	streams int
}

// Compile-time interface satisfaction check.
var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithStreams sets the stream count used when a model is compiled without
// NUM_STREAMS. Non-positive values keep the default of GOMAXPROCS.
func WithStreams(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.streams = n
		}
	}
}

// New creates a CPU engine. A nil logger discards output.
func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{logger: logger, streams: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capabilities reports the CPU device's supported element types and the
// default stream count.
func (e *Engine) Capabilities() engine.DeviceCapabilities {
	return engine.DeviceCapabilities{
		Name: DeviceName,
		ElementTypes: []engine.ElementType{
			engine.U8, engine.U16, engine.U32,
			engine.I8, engine.I16, engine.I32, engine.I64,
			engine.F32, engine.F64,
		},
		MaxConcurrency: e.streams,
	}
}

// Compile builds gonum matrices for every layer of m.
func (e *Engine) Compile(ctx context.Context, m engine.Model, config map[string]string) (engine.CompiledModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, ok := m.(*Model)
	if !ok || model == nil {
		return nil, fmt.Errorf("%w: model was not read by the CPU engine", ErrInvalidModel)
	}

	streams := e.streams
	if v, ok := config[ConfigNumStreams]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q", ConfigNumStreams, v)
		}
		streams = n
	}

	var delay time.Duration
	if v, ok := config[ConfigInferenceDelayMS]; ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid %s %q", ConfigInferenceDelayMS, v)
		}
		delay = time.Duration(ms) * time.Millisecond
	}

	layers := make([]denseLayer, len(model.spec.Layers))
	for i, l := range model.spec.Layers {
		rows, cols := len(l.Weights), len(l.Weights[0])
		flat := make([]float64, 0, rows*cols)
		for _, row := range l.Weights {
			flat = append(flat, row...)
		}
		bias := l.Bias
		if bias == nil {
			bias = make([]float64, rows)
		}
		layers[i] = denseLayer{
			weights:    mat.NewDense(rows, cols, flat),
			bias:       mat.NewVecDense(rows, append([]float64(nil), bias...)),
			activation: l.Activation,
		}
	}

	in := model.spec.Inputs[0]
	cm := &CompiledModel{
		model:    model,
		layers:   layers,
		features: in.Shape[len(in.Shape)-1],
		classes:  len(model.spec.Layers[len(model.spec.Layers)-1].Weights),
		streams:  semaphore.NewWeighted(int64(streams)),
		delay:    delay,
	}

	e.logger.Info("model compiled",
		"model", model.Name(),
		"device", DeviceName,
		"layers", len(layers),
		"streams", streams,
	)
	return cm, nil
}

// denseLayer is y = activation(W·x + b).
type denseLayer struct {
	weights    *mat.Dense
	bias       *mat.VecDense
	activation string
}

func (l *denseLayer) forward(x *mat.VecDense) *mat.VecDense {
	var y mat.VecDense
	y.MulVec(l.weights, x)
	y.AddVec(&y, l.bias)

	data := y.RawVector().Data
	switch l.activation {
	case ActivationReLU:
		for i, v := range data {
			if v < 0 {
				data[i] = 0
			}
		}
	case ActivationSigmoid:
		for i, v := range data {
			data[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationSoftmax:
		peak := floats.Max(data)
		for i, v := range data {
			data[i] = math.Exp(v - peak)
		}
		floats.Scale(1/floats.Sum(data), data)
	}
	return &y
}

// CompiledModel is a CPU model ready for inference. It is safe for concurrent
// use by any number of requests.
type CompiledModel struct {
	model    *Model
	layers   []denseLayer
	features int
	classes  int
	streams  *semaphore.Weighted
	delay    time.Duration
}

// Compile-time interface satisfaction check.
var _ engine.CompiledModel = (*CompiledModel)(nil)

func (c *CompiledModel) Name() string            { return c.model.Name() }
func (c *CompiledModel) Inputs() []engine.Port  { return c.model.Inputs() }
func (c *CompiledModel) Outputs() []engine.Port { return c.model.Outputs() }
func (c *CompiledModel) Device() string         { return DeviceName }

// CreateInferRequest returns a new request bound to this model.
func (c *CompiledModel) CreateInferRequest() (engine.InferRequest, error) {
	return &inferRequest{model: c}, nil
}

// ErrInputMismatch is returned when an input tensor does not fit the model.
var ErrInputMismatch = errors.New("input does not match model")

type inferRequest struct {
	model *CompiledModel
}

// Infer runs the forward pass for every row of the input tensor. It blocks
// until a stream is free.
func (r *inferRequest) Infer(ctx context.Context, inputs engine.TensorSet) (engine.TensorSet, error) {
	c := r.model
	port := c.model.spec.Inputs[0]

	in, ok := inputs.Lookup(port.Name)
	if !ok {
		return nil, fmt.Errorf("%w: missing input %q", ErrInputMismatch, port.Name)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMismatch, err)
	}
	if in.Shape[len(in.Shape)-1] != c.features {
		return nil, fmt.Errorf("%w: input %q has %d features, want %d", ErrInputMismatch, port.Name, in.Shape[len(in.Shape)-1], c.features)
	}
	rows := len(in.Data) / c.features

	if err := c.streams.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for stream: %w", err)
	}
	defer c.streams.Release(1)

	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	out := make([]float32, 0, rows*c.classes)
	x := make([]float64, c.features)
	for row := 0; row < rows; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, v := range in.Data[row*c.features : (row+1)*c.features] {
			x[i] = float64(v)
		}

		h := mat.NewVecDense(c.features, append([]float64(nil), x...))
		for i := range c.layers {
			h = c.layers[i].forward(h)
		}
		for _, v := range h.RawVector().Data {
			out = append(out, float32(v))
		}
	}

	outPort := c.model.spec.Outputs[0]
	return engine.TensorSet{
		outPort.Name: &engine.Tensor{
			Type:  engine.F32,
			Shape: engine.Shape{rows, c.classes},
			Data:  out,
		},
	}, nil
}
