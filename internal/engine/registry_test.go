package engine_test

import (
	"context"
	"io"
	"testing"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// stubEngine is a minimal Engine for registry tests.
type stubEngine struct {
	name string
}

func (s *stubEngine) ReadModel(_ context.Context, _ io.Reader) (engine.Model, error) {
	return nil, nil
}

func (s *stubEngine) Compile(_ context.Context, _ engine.Model, _ map[string]string) (engine.CompiledModel, error) {
	return nil, nil
}

func (s *stubEngine) Capabilities() engine.DeviceCapabilities {
	return engine.DeviceCapabilities{
		Name:           s.name,
		ElementTypes:   []engine.ElementType{engine.F32},
		MaxConcurrency: 4,
	}
}

// Compile-time check that stubEngine satisfies the Engine interface.
var _ engine.Engine = (*stubEngine)(nil)

func TestRegistryRegisterAndList(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("CPU", &stubEngine{name: "cpu"})
	reg.Register("gpu", &stubEngine{name: "gpu"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(list))
	}
	if list[0].Name != "CPU" || list[1].Name != "GPU" {
		t.Errorf("List() names = [%s %s], want [CPU GPU]", list[0].Name, list[1].Name)
	}
	if list[1].Capabilities.Name != "gpu" {
		t.Errorf("GPU capabilities name = %q, want %q", list[1].Capabilities.Name, "gpu")
	}
}

func TestRegistryResolveExplicit(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("CPU", &stubEngine{name: "cpu"})

	device, e, err := reg.Resolve("cpu")
	if err != nil {
		t.Fatalf("Resolve explicit: %v", err)
	}
	if device != "CPU" {
		t.Errorf("device = %q, want %q", device, "CPU")
	}
	if e.Capabilities().Name != "cpu" {
		t.Errorf("resolved engine name = %q, want %q", e.Capabilities().Name, "cpu")
	}
}

func TestRegistryResolveExplicitNotRegistered(t *testing.T) {
	reg := engine.NewRegistry()

	_, _, err := reg.Resolve("NPU")
	if err == nil {
		t.Error("expected error for unregistered device, got nil")
	}
}

func TestRegistryResolveAuto(t *testing.T) {
	tests := []struct {
		name       string
		registered []string
		want       string
	}{
		{"cpu only", []string{"CPU"}, "CPU"},
		{"gpu preferred", []string{"CPU", "GPU"}, "GPU"},
		{"npu over cpu", []string{"NPU", "CPU"}, "NPU"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := engine.NewRegistry()
			for _, d := range tc.registered {
				reg.Register(d, &stubEngine{name: d})
			}
			device, _, err := reg.Resolve(engine.DeviceAuto)
			if err != nil {
				t.Fatalf("Resolve(AUTO): %v", err)
			}
			if device != tc.want {
				t.Errorf("Resolve(AUTO) = %q, want %q", device, tc.want)
			}
		})
	}
}

func TestRegistryResolveAutoNothingRegistered(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("FPGA", &stubEngine{name: "fpga"})

	if _, _, err := reg.Resolve(engine.DeviceAuto); err == nil {
		t.Error("expected error when no AUTO candidate is registered, got nil")
	}
}
