package automation

import (
	"time"

	"go.jetify.com/typeid"
)

func newID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewExecutionID returns a new unique execution ID.
func NewExecutionID() string {
	return newID("exec")
}

// NewStepExecutionID returns a new unique step-attempt ID.
func NewStepExecutionID() string {
	return newID("stepexec")
}

// NewWorkflowID returns a new unique workflow ID.
func NewWorkflowID() string {
	return newID("wf")
}

// NewTriggerID returns a new unique trigger ID.
func NewTriggerID() string {
	return newID("trigger")
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status is final. An execution never leaves a
// terminal status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCancelled, ExecutionStatusTimeout:
		return true
	}
	return false
}

// WorkflowExecution is one run of a workflow, with its own mutable context
// and terminal status. It is owned exclusively by the engine task running it.
type WorkflowExecution struct {
	ID                   string          `json:"id"`
	WorkflowID           string          `json:"workflow_id"`
	TriggerID            string          `json:"trigger_id,omitempty"`
	Status               ExecutionStatus `json:"status"`
	InputData            map[string]any  `json:"input_data,omitempty"`
	Variables            map[string]any  `json:"variables,omitempty"`
	OutputData           map[string]any  `json:"output_data,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	StepsCompleted       int             `json:"steps_completed"`
	StepsTotal           int             `json:"steps_total"`
	StartedAt            time.Time       `json:"started_at,omitzero"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds,omitempty"`
}

// Copy returns a shallow copy of the execution record.
func (e *WorkflowExecution) Copy() *WorkflowExecution {
	dup := *e
	dup.InputData = copyMap(e.InputData)
	dup.Variables = copyMap(e.Variables)
	dup.OutputData = copyMap(e.OutputData)
	return &dup
}

// WorkflowStepExecution records a single attempt of a step within an
// execution. Rows are append-only: one per attempt, never rewritten into a
// different attempt.
type WorkflowStepExecution struct {
	ID                   string          `json:"id"`
	ExecutionID          string          `json:"execution_id"`
	StepID               string          `json:"step_id"`
	AttemptNumber        int             `json:"attempt_number"`
	Status               ExecutionStatus `json:"status"`
	InputData            map[string]any  `json:"input_data,omitempty"`
	OutputData           map[string]any  `json:"output_data,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	StartedAt            time.Time       `json:"started_at,omitzero"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds,omitempty"`
}

// Copy returns a shallow copy of the step execution record.
func (e *WorkflowStepExecution) Copy() *WorkflowStepExecution {
	dup := *e
	dup.InputData = copyMap(e.InputData)
	dup.OutputData = copyMap(e.OutputData)
	return &dup
}

// ExecutionSummary is a compact view of an execution for listings.
type ExecutionSummary struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Summary returns a compact view of the execution.
func (e *WorkflowExecution) Summary() *ExecutionSummary {
	return &ExecutionSummary{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Error:       e.ErrorMessage,
	}
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}

// mergeMaps merges the given maps into a new map, later maps winning.
func mergeMaps(maps ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
