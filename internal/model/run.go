package model

import (
	"encoding/json"
	"time"
)

// RunStatus tracks a pipeline run through its lifecycle.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID        string     `json:"id"`
	Pipeline  string     `json:"pipeline"`
	Workspace string     `json:"workspace"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the aggregated outcome of a run. Status is a
// process-completion signal: it reads "success" whenever the executor ran to
// the end, even if individual steps recorded errors. Callers inspect Stages
// for per-step outcomes.
type RunResult struct {
	Status    string                  `json:"status"`
	Workspace string                  `json:"workspace"`
	Stages    map[string][]StepResult `json:"results"`
	Summary   json.RawMessage         `json:"summary,omitempty"`
}

// StepResult is the per-step outcome captured by the executor. A step that
// panics or returns an error is recorded with Status "error" and the run
// continues.
type StepResult struct {
	Step   string         `json:"step"`
	Title  string         `json:"title"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}
