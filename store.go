package automation

import (
	"context"
	"time"
)

// ExecutionStore is the persistence collaborator shared by the engine and the
// scheduler. Implementations must be safe for concurrent use: it is the only
// resource shared across executions.
type ExecutionStore interface {

	// GetWorkflow returns a workflow with its ordered steps and triggers.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// GetTrigger returns a trigger by ID.
	GetTrigger(ctx context.Context, id string) (*WorkflowTrigger, error)

	// ListTriggers returns all triggers of the given type.
	ListTriggers(ctx context.Context, triggerType TriggerType) ([]*WorkflowTrigger, error)

	// CreateTrigger registers a new trigger.
	CreateTrigger(ctx context.Context, trigger *WorkflowTrigger) error

	// UpdateTrigger persists trigger mutations (enablement, schedule,
	// last-fired bookkeeping).
	UpdateTrigger(ctx context.Context, trigger *WorkflowTrigger) error

	// DeleteTrigger removes a trigger.
	DeleteTrigger(ctx context.Context, id string) error

	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, execution *WorkflowExecution) error

	// GetExecution returns an execution by ID.
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)

	// UpdateExecutionStatus transitions an execution. Implementations set
	// CompletedAt and ExecutionTimeSeconds when status is terminal, and
	// must leave terminal executions untouched.
	UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, errorMessage string, outputData map[string]any) error

	// UpdateExecutionProgress records how many steps have completed.
	UpdateExecutionProgress(ctx context.Context, id string, stepsCompleted int) error

	// GetActiveExecutions returns executions still in pending or running.
	GetActiveExecutions(ctx context.Context) ([]*WorkflowExecution, error)

	// CreateStepExecution appends a step-attempt record.
	CreateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error

	// UpdateStepExecution records the outcome of a step attempt.
	UpdateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error

	// ListStepExecutions returns the step-attempt records for an execution
	// in creation order.
	ListStepExecutions(ctx context.Context, executionID string) ([]*WorkflowStepExecution, error)
}

// finishExecution stamps completion fields on a record. Shared by store
// implementations so the terminal-status invariants live in one place.
func finishExecution(execution *WorkflowExecution, status ExecutionStatus, errorMessage string, outputData map[string]any, now time.Time) {
	execution.Status = status
	execution.ErrorMessage = errorMessage
	if outputData != nil {
		execution.OutputData = copyMap(outputData)
	}
	if status.IsTerminal() {
		completed := now
		execution.CompletedAt = &completed
		if !execution.StartedAt.IsZero() {
			execution.ExecutionTimeSeconds = completed.Sub(execution.StartedAt).Seconds()
		}
	}
}
