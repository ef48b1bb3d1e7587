package cpu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// Activation function names accepted in layer definitions.
const (
	ActivationNone    = "none"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// ErrInvalidModel is returned when a model document is malformed or its layers
// do not chain.
var ErrInvalidModel = errors.New("invalid model")

// modelSpec is the on-disk model document.
type modelSpec struct {
	Name    string        `json:"name"`
	Inputs  []engine.Port `json:"inputs"`
	Outputs []engine.Port `json:"outputs"`
	Layers  []layerSpec   `json:"layers"`
}

// layerSpec is one fully connected layer. Weights has one row per output unit.
type layerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Model is a parsed CPU model. It is not bound to the device until compiled.
type Model struct {
	spec modelSpec
}

// Compile-time interface satisfaction check.
var _ engine.Model = (*Model)(nil)

func (m *Model) Name() string            { return m.spec.Name }
func (m *Model) Inputs() []engine.Port  { return m.spec.Inputs }
func (m *Model) Outputs() []engine.Port { return m.spec.Outputs }

// ReadModel parses a JSON model document and checks its structure.
func (e *Engine) ReadModel(ctx context.Context, r io.Reader) (engine.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var spec modelSpec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidModel, err)
	}
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	e.logger.Debug("model read", "model", spec.Name, "layers", len(spec.Layers))
	return &Model{spec: spec}, nil
}

// validateSpec checks that the model has one input and one output and that
// layer dimensions chain from the input feature size to the output class count.
func validateSpec(spec *modelSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidModel)
	}
	if len(spec.Inputs) != 1 || len(spec.Outputs) != 1 {
		return fmt.Errorf("%w: supports only single input and single output topologies", ErrInvalidModel)
	}
	if len(spec.Layers) == 0 {
		return fmt.Errorf("%w: at least one layer is required", ErrInvalidModel)
	}

	for i := range spec.Inputs {
		if spec.Inputs[i].Type == "" {
			spec.Inputs[i].Type = engine.F32
		}
	}
	for i := range spec.Outputs {
		if spec.Outputs[i].Type == "" {
			spec.Outputs[i].Type = engine.F32
		}
	}

	inShape := spec.Inputs[0].Shape
	if len(inShape) == 0 {
		return fmt.Errorf("%w: input %q has no shape", ErrInvalidModel, spec.Inputs[0].Name)
	}
	for _, p := range []engine.Port{spec.Inputs[0], spec.Outputs[0]} {
		for _, d := range p.Shape {
			if d <= 0 {
				return fmt.Errorf("%w: port %q has dimension %d", ErrInvalidModel, p.Name, d)
			}
		}
	}
	width := inShape[len(inShape)-1]

	for i, l := range spec.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("%w: layer %d has no weights", ErrInvalidModel, i)
		}
		for j, row := range l.Weights {
			if len(row) != width {
				return fmt.Errorf("%w: layer %d row %d has %d weights, want %d", ErrInvalidModel, i, j, len(row), width)
			}
		}
		if l.Bias != nil && len(l.Bias) != len(l.Weights) {
			return fmt.Errorf("%w: layer %d bias has %d values, want %d", ErrInvalidModel, i, len(l.Bias), len(l.Weights))
		}
		switch l.Activation {
		case "", ActivationNone, ActivationReLU, ActivationSigmoid, ActivationSoftmax:
		default:
			return fmt.Errorf("%w: layer %d has unknown activation %q", ErrInvalidModel, i, l.Activation)
		}
		width = len(l.Weights)
	}

	outShape := spec.Outputs[0].Shape
	if len(outShape) > 0 && outShape[len(outShape)-1] != width {
		return fmt.Errorf("%w: output %q declares %d classes, layers produce %d", ErrInvalidModel, spec.Outputs[0].Name, outShape[len(outShape)-1], width)
	}
	return nil
}
