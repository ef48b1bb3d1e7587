package model

import (
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
)

// Batch status constants.
const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
)

// Task status constants.
const (
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
	TaskStatusTimedOut  = "timed_out"
)

// validTransitions maps each batch status to the set of statuses it may
// transition to.
var validTransitions = map[string]map[string]bool{
	BatchStatusPending: {
		BatchStatusRunning:   true,
		BatchStatusCompleted: true,
	},
	BatchStatusRunning: {
		BatchStatusCompleted: true,
	},
}

// ValidTransition reports whether a batch may move from one status to another.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is a final batch status.
func Terminal(status string) bool {
	return status == BatchStatusCompleted
}

// Batch is one submitted group of inference inputs.
type Batch struct {
	ID         string       `json:"id"`
	ModelID    string       `json:"model_id"`
	ModelName  string       `json:"model_name"`
	Device     string       `json:"device"`
	Status     string       `json:"status"`
	Size       int          `json:"size"`
	Settled    int          `json:"settled"`
	TimeoutMS  int          `json:"timeout_ms"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Results    []TaskResult `json:"results,omitempty"`
}

// TaskResult is the persisted outcome of one task in a batch.
type TaskResult struct {
	BatchID    string           `json:"batch_id"`
	Index      int              `json:"index"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Output     engine.TensorSet `json:"output,omitempty"`
	DurationMS int              `json:"duration_ms"`
	SettledAt  time.Time        `json:"settled_at"`
}

// ModelInfo describes a compiled model held by the service.
type ModelInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Device    string            `json:"device"`
	Inputs    []engine.Port     `json:"inputs"`
	Outputs   []engine.Port     `json:"outputs"`
	Config    map[string]string `json:"config,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
