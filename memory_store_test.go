package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreWorkflows(t *testing.T) {
	wf, err := New(Options{
		Name:  "stored",
		Steps: []*WorkflowStep{{ID: "a", Type: StepTypeWait}},
		Triggers: []*WorkflowTrigger{
			{Type: TriggerTypeSchedule, CronExpression: "0 9 * * 1", Enabled: true},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	ctx := context.Background()

	got, err := store.GetWorkflow(ctx, wf.ID())
	require.NoError(t, err)
	require.Equal(t, wf.Name(), got.Name())

	_, err = store.GetWorkflow(ctx, "wf_missing")
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	// Registering a workflow also registers its triggers
	triggers, err := store.ListTriggers(ctx, TriggerTypeSchedule)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	require.Equal(t, wf.ID(), triggers[0].WorkflowID)
}

func TestMemoryStoreTriggerLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	trigger := &WorkflowTrigger{
		ID:         "trig_1",
		WorkflowID: "wf_1",
		Type:       TriggerTypeEvent,
		Config:     map[string]any{"event_type": "task.created"},
		Enabled:    true,
	}
	require.NoError(t, store.CreateTrigger(ctx, trigger))
	require.Error(t, store.CreateTrigger(ctx, trigger))

	fired := time.Now()
	trigger.LastTriggeredAt = &fired
	trigger.TriggerCount = 1
	require.NoError(t, store.UpdateTrigger(ctx, trigger))

	got, err := store.GetTrigger(ctx, "trig_1")
	require.NoError(t, err)
	require.Equal(t, 1, got.TriggerCount)
	require.NotNil(t, got.LastTriggeredAt)

	// Stored triggers are copies; mutating the original has no effect
	trigger.TriggerCount = 99
	got, err = store.GetTrigger(ctx, "trig_1")
	require.NoError(t, err)
	require.Equal(t, 1, got.TriggerCount)

	require.NoError(t, store.DeleteTrigger(ctx, "trig_1"))
	require.Error(t, store.DeleteTrigger(ctx, "trig_1"))
}

func TestMemoryStoreExecutionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	execution := &WorkflowExecution{
		ID:         "exec_1",
		WorkflowID: "wf_1",
		Status:     ExecutionStatusPending,
		StepsTotal: 2,
		StartedAt:  time.Now(),
	}
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.Error(t, store.CreateExecution(ctx, execution))

	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec_1", ExecutionStatusRunning, "", nil))
	require.NoError(t, store.UpdateExecutionProgress(ctx, "exec_1", 1))

	active, err := store.GetActiveExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec_1", ExecutionStatusCompleted, "", map[string]any{"x": 1}))

	got, err := store.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, got.Status)
	require.Equal(t, 1, got.StepsCompleted)
	require.NotNil(t, got.CompletedAt)
	require.GreaterOrEqual(t, got.ExecutionTimeSeconds, 0.0)

	active, err = store.GetActiveExecutions(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestMemoryStoreTerminalStatusIsFinal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	execution := &WorkflowExecution{
		ID:         "exec_1",
		WorkflowID: "wf_1",
		Status:     ExecutionStatusRunning,
		StartedAt:  time.Now(),
	}
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec_1", ExecutionStatusTimeout, "stale", nil))

	// A late cancel from the run task must not overwrite the reaped status
	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec_1", ExecutionStatusCancelled, "", nil))

	got, err := store.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusTimeout, got.Status)
	require.Equal(t, "stale", got.ErrorMessage)
}

func TestMemoryStoreProgressClamped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	execution := &WorkflowExecution{
		ID:         "exec_1",
		WorkflowID: "wf_1",
		Status:     ExecutionStatusRunning,
		StepsTotal: 3,
		StartedAt:  time.Now(),
	}
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, store.UpdateExecutionProgress(ctx, "exec_1", 7))

	got, err := store.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	require.Equal(t, 3, got.StepsCompleted)
}

func TestMemoryStoreStepExecutions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &WorkflowStepExecution{
		ID:            "sexec_1",
		ExecutionID:   "exec_1",
		StepID:        "a",
		AttemptNumber: 1,
		Status:        ExecutionStatusRunning,
		StartedAt:     time.Now(),
	}
	require.NoError(t, store.CreateStepExecution(ctx, first))

	second := first.Copy()
	second.ID = "sexec_2"
	second.AttemptNumber = 2
	require.NoError(t, store.CreateStepExecution(ctx, second))

	first.Status = ExecutionStatusFailed
	first.ErrorMessage = "boom"
	require.NoError(t, store.UpdateStepExecution(ctx, first))

	records, err := store.ListStepExecutions(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ExecutionStatusFailed, records[0].Status)
	require.Equal(t, 2, records[1].AttemptNumber)

	missing := first.Copy()
	missing.ID = "sexec_missing"
	require.Error(t, store.UpdateStepExecution(ctx, missing))
}
