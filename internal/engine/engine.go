package engine

import (
	"context"
	"io"
)

// Engine is the interface that every device engine must implement.
type Engine interface {
	// ReadModel parses a serialized model. The returned Model is not yet bound
	// to a device.
	ReadModel(ctx context.Context, r io.Reader) (Model, error)

	// Compile binds a model to this engine's device. config carries
	// device-specific options (for example NUM_STREAMS).
	Compile(ctx context.Context, m Model, config map[string]string) (CompiledModel, error)

	// Capabilities reports what this engine supports.
	Capabilities() DeviceCapabilities
}

// Model is a parsed model graph. Its representation is private to the engine
// that produced it.
type Model interface {
	Name() string
	Inputs() []Port
	Outputs() []Port
}

// CompiledModel is a model bound to a device, ready to accept inference
// requests. A CompiledModel is shared read-only by every request created from it.
type CompiledModel interface {
	Model

	// Device reports the device the model was compiled for.
	Device() string

	// CreateInferRequest returns a fresh request context. Each request is owned
	// by a single caller; distinct requests may run Infer concurrently.
	CreateInferRequest() (InferRequest, error)
}

// InferRequest runs inferences against a CompiledModel.
type InferRequest interface {
	// Infer runs one inference. Implementations should honour ctx cancellation
	// where the device allows it; callers must not assume they do.
	Infer(ctx context.Context, inputs TensorSet) (TensorSet, error)
}

// Port describes a named model input or output.
type Port struct {
	Name  string      `json:"name"`
	Shape Shape       `json:"shape"`
	Type  ElementType `json:"type"`
}

// DeviceCapabilities describes an engine's device.
type DeviceCapabilities struct {
	Name           string        `json:"name"`
	ElementTypes   []ElementType `json:"element_types"`
	MaxConcurrency int           `json:"max_concurrency"`
}
