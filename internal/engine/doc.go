// Package engine defines the inference engine capability consumed by the
// dispatcher: reading and compiling models for a device, creating per-call
// inference requests, and the tensor types exchanged with them. Concrete
// engines (see engine/cpu) register themselves under a device name in a
// Registry.
package engine
