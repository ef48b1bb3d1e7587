package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DeviceAuto asks the registry to pick a device.
const DeviceAuto = "AUTO"

// ErrUnknownDevice is returned when no engine serves a requested device.
var ErrUnknownDevice = errors.New("unknown device")

// autoPriority is the order in which AUTO resolution tries devices.
var autoPriority = []string{"GPU", "NPU", "CPU"}

// DeviceInfo pairs a device name with its capabilities.
type DeviceInfo struct {
	Name         string             `json:"name"`
	Capabilities DeviceCapabilities `json:"capabilities"`
}

// Registry holds engines keyed by device name and resolves which one serves
// a given device request.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine under the given device name. Device names are
// case-insensitive.
func (r *Registry) Register(device string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[strings.ToUpper(device)] = e
}

// Resolve returns the engine for device along with the concrete device name.
// "AUTO" picks the first registered device in autoPriority.
func (r *Registry) Resolve(device string) (string, Engine, error) {
	target := strings.ToUpper(device)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target == DeviceAuto || target == "" {
		for _, name := range autoPriority {
			if e, ok := r.engines[name]; ok {
				return name, e, nil
			}
		}
		return "", nil, fmt.Errorf("%w: nothing registered for %s", ErrUnknownDevice, DeviceAuto)
	}

	e, ok := r.engines[target]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	return target, e, nil
}

// List returns information about all registered devices, sorted by name.
func (r *Registry) List() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(r.engines))
	for name, e := range r.engines {
		infos = append(infos, DeviceInfo{
			Name:         name,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
